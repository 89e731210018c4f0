package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Config values of the form sm://SECRET_NAME are resolved through GCP Secret
// Manager at startup, so tokens never live in the environment directly.
const refPrefix = "sm://"

// IsRef reports whether the value is a secret reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, refPrefix)
}

// Resolver reads secret versions from GCP Secret Manager.
type Resolver struct {
	client    *secretmanager.Client
	projectID string
}

// NewResolver creates a Secret Manager client for the given project.
func NewResolver(ctx context.Context, projectID string) (*Resolver, error) {
	if projectID == "" {
		return nil, fmt.Errorf("GCP project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &Resolver{client: client, projectID: projectID}, nil
}

// Resolve returns the latest version of the referenced secret. Plain values
// pass through unchanged.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	name := strings.TrimPrefix(value, refPrefix)
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", r.projectID, name)
	result, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return string(result.Payload.Data), nil
}

// Close releases the underlying client.
func (r *Resolver) Close() error {
	return r.client.Close()
}

// ResolveAll rewrites every sm:// reference among the given values in place.
// When none of the values is a reference, no client is created at all.
func ResolveAll(ctx context.Context, projectID string, values ...*string) error {
	found := false
	for _, v := range values {
		if IsRef(*v) {
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	r, err := NewResolver(ctx, projectID)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, v := range values {
		resolved, err := r.Resolve(ctx, *v)
		if err != nil {
			return err
		}
		*v = resolved
	}
	return nil
}
