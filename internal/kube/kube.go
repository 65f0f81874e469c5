// Package kube talks to the cluster control plane. Its only job here is
// validating that a forwarding target actually exists before a tunnel is
// spawned for it.
package kube

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/tools/clientcmd"

	"kpfgw/internal/resource"
)

// Checker validates that a descriptor's target exists in the given namespace.
type Checker interface {
	Validate(ctx context.Context, d resource.Descriptor, namespace string) error
}

// ValidationError reports a target that could not be confirmed to exist.
// Sessions retry these under the standard retry policy.
type ValidationError struct {
	Resource  string
	Namespace string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resource %s not found in namespace %q: %v", e.Resource, e.Namespace, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// UnsupportedKindError reports a descriptor kind no tunnel can target. These
// fail immediately, without a network call.
type UnsupportedKindError struct {
	Kind string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported resource kind %q (supported: pod, service, svc)", e.Kind)
}

// Client is the client-go backed Checker.
type Client struct {
	clientset kubernetes.Interface
}

// NewClient builds a Client from the local kubeconfig. An empty kubeContext
// selects the current context.
func NewClient(kubeContext string) (*Client, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	return &Client{clientset: clientset}, nil
}

// NewClientWithClientset wraps an existing clientset. Used by tests with the
// fake clientset.
func NewClientWithClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// Validate checks that the descriptor's target exists. Unsupported kinds are
// rejected before any API call is made.
func (c *Client) Validate(ctx context.Context, d resource.Descriptor, namespace string) error {
	if !d.Supported() {
		return &UnsupportedKindError{Kind: d.Kind}
	}

	var err error
	switch d.CanonicalKind() {
	case "pod":
		_, err = c.clientset.CoreV1().Pods(namespace).Get(ctx, d.Name, metav1.GetOptions{})
	case "service":
		_, err = c.clientset.CoreV1().Services(namespace).Get(ctx, d.Name, metav1.GetOptions{})
	}
	if err != nil {
		return &ValidationError{Resource: d.Key(), Namespace: namespace, Err: err}
	}
	return nil
}
