package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

var PollInterval = time.Second

// WaitReady polls the resource until its Ready condition is True for the
// latest generation or timeout expires.
func WaitReady(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string, timeout time.Duration) (*ResourceState, error) {
	return waitFor(ctx, client, gvr, namespace, name, timeout, func(s *ResourceState) bool {
		return s.Exists && s.Ready && s.Observed()
	}, "ready")
}

// WaitDeleted polls until the resource is gone or timeout expires.
func WaitDeleted(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string, timeout time.Duration) error {
	_, err := waitFor(ctx, client, gvr, namespace, name, timeout, func(s *ResourceState) bool {
		return !s.Exists
	}, "deleted")
	return err
}

func waitFor(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string, timeout time.Duration, done func(*ResourceState) bool, what string) (*ResourceState, error) {
	timer := time.NewTimer(timeout)
	ticker := time.NewTicker(PollInterval)

	defer ticker.Stop()
	defer timer.Stop()

	var state *ResourceState
	for {
		var err error
		state, err = GetResourceState(ctx, client, gvr, namespace, name)
		if err != nil {
			return nil, err
		}
		if done(state) {
			return state, nil
		}
		logrus.Debugf("Waiting %v %v/%v to be %v", gvr.Resource, namespace, name, what)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return state, ctx.Err()
		case <-timer.C:
			msg := fmt.Sprintf("%v %v/%v is not %v after %v", gvr.Resource, namespace, name, what, timeout)
			if state.Reason != "" || state.Message != "" {
				msg = fmt.Sprintf("%v: %v %v", msg, state.Reason, state.Message)
			}
			return state, fmt.Errorf("%v", msg)
		}
	}
}
