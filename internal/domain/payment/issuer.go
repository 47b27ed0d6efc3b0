package payment

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/merchkit/checkout/internal/domain/checkout"
	"github.com/merchkit/checkout/internal/domain/customer"
)

// IntentIssuer opens payment intents for priced checkout snapshots. Nothing
// is persisted locally at this stage: no order exists and no stock changes
// until the gateway confirms the payment through the webhook path.
type IntentIssuer struct {
	customers customer.Repository
	gateway   Gateway
}

// NewIntentIssuer creates an IntentIssuer with the required dependencies.
func NewIntentIssuer(customers customer.Repository, gateway Gateway) *IntentIssuer {
	return &IntentIssuer{
		customers: customers,
		gateway:   gateway,
	}
}

// CreateIntent ensures the customer has a gateway identity, opens an intent
// for the snapshot total, and returns the client secret the buyer uses to
// complete the payment directly with the gateway.
func (i *IntentIssuer) CreateIntent(ctx context.Context, cust *customer.Customer, snap *checkout.Snapshot) (string, error) {
	gatewayID, err := i.ensureGatewayCustomer(ctx, cust)
	if err != nil {
		return "", err
	}

	intent, err := i.gateway.CreateIntent(ctx, IntentRequest{
		AmountMinor: snap.Totals.Total.Shift(2).IntPart(),
		Currency:    Currency,
		CustomerID:  gatewayID,
		Metadata:    EncodeMetadata(cust.ID, snap),
	})
	if err != nil {
		return "", errors.Wrap(err, "create intent")
	}

	return intent.ClientSecret, nil
}

// ensureGatewayCustomer returns the customer's gateway identity, creating it
// on first use. The persisted id is the single source of truth: it is
// written before this method returns, so repeated checkouts for the same
// customer never create duplicate gateway identities.
func (i *IntentIssuer) ensureGatewayCustomer(ctx context.Context, cust *customer.Customer) (string, error) {
	if cust.GatewayCustomerID != "" {
		return cust.GatewayCustomerID, nil
	}

	gatewayID, err := i.gateway.CreateCustomer(ctx, cust.Name, cust.Email)
	if err != nil {
		return "", errors.Wrap(err, "create gateway customer")
	}
	if err := i.customers.SetGatewayCustomerID(ctx, cust.ID, gatewayID); err != nil {
		return "", errors.Wrap(err, "persist gateway customer id")
	}
	cust.GatewayCustomerID = gatewayID

	return gatewayID, nil
}
