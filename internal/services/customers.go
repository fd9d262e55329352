package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/CoachLedger/internal/processor"
)

// ensureCustomer returns the user's processor customer id, creating and
// storing one on first use. When two callers race, the first stored id wins.
func ensureCustomer(ctx context.Context, client processor.Client, users UserStore, userID int64) (string, error) {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return "", err
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	customerID, err := client.CreateCustomer(ctx, processor.CustomerParams{
		Email:    user.Email,
		Name:     user.DisplayName(),
		Metadata: map[string]string{"user_id": strconv.FormatInt(user.ID, 10)},
	})
	if err != nil {
		return "", err
	}

	if _, err := users.SetStripeCustomerID(ctx, userID, customerID); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", err
		}
		user, err = users.GetByID(ctx, userID)
		if err != nil {
			return "", err
		}
		if user.StripeCustomerID != nil {
			return *user.StripeCustomerID, nil
		}
	}
	return customerID, nil
}
