package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/relay/armrelay"
)

// Manager provisions hybrid connections through Azure Resource Manager
type Manager struct {
	client            *armrelay.HybridConnectionsClient
	resourceGroupName string
}

// ManagerOptions contains configuration for the Manager
type ManagerOptions struct {
	// SubscriptionID is the Azure subscription ID
	SubscriptionID string

	// ResourceGroupName is the resource group holding the Relay namespaces
	ResourceGroupName string

	// Credential is the Azure credential to use (optional, defaults to DefaultAzureCredential)
	Credential azcore.TokenCredential

	// Transport sends the management requests (optional, defaults to the SDK transport)
	Transport policy.Transporter
}

// NewManager creates a new Manager
func NewManager(opts *ManagerOptions) (*Manager, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription ID is required")
	}
	if opts.ResourceGroupName == "" {
		return nil, fmt.Errorf("resource group name is required")
	}

	credential := opts.Credential
	if credential == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		credential = cred
	}

	hcClient, err := armrelay.NewHybridConnectionsClient(opts.SubscriptionID, credential, &arm.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Logging:   policy.LogOptions{IncludeBody: true},
			Transport: opts.Transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hybrid connections client: %w", err)
	}

	return &Manager{
		client:            hcClient,
		resourceGroupName: opts.ResourceGroupName,
	}, nil
}

// EnsureHybridConnection creates or updates name in namespace. Client
// authorization is left off so namespace-level SAS keys can send.
func (m *Manager) EnsureHybridConnection(ctx context.Context, namespace, name string) error {
	props := armrelay.HybridConnection{
		Properties: &armrelay.HybridConnectionProperties{
			RequiresClientAuthorization: ptr(false),
		},
	}

	_, err := m.client.CreateOrUpdate(ctx, m.resourceGroupName, namespaceName(namespace), name, props, nil)
	if err != nil {
		return fmt.Errorf("failed to ensure hybrid connection %s/%s: %w", namespace, name, err)
	}
	return nil
}

// namespaceName strips the service bus domain from a namespace host
func namespaceName(namespace string) string {
	name, _, _ := strings.Cut(namespace, ".")
	return name
}

func ptr[T any](v T) *T {
	return &v
}
