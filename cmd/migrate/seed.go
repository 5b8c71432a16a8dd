package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// Seed is the reference data applied after the schema.
type Seed struct {
	Services []domain.ServiceCatalogEntry
	Users    []domain.User
}

type seedDocument struct {
	Services []seedService `yaml:"services"`
	Users    []seedUser    `yaml:"users"`
}

type seedService struct {
	Key                 string `yaml:"key"`
	DisplayNameKey      string `yaml:"display_name_key"`
	ItemType            string `yaml:"item_type"`
	BasePrice           string `yaml:"base_price"`
	TaxPercentage       string `yaml:"tax_percentage"`
	RequiresMeasurement bool   `yaml:"requires_measurement"`
	Active              *bool  `yaml:"active"`
	DisplayOrder        int    `yaml:"display_order"`
}

type seedUser struct {
	ID     string `yaml:"id"`
	Email  string `yaml:"email"`
	Role   string `yaml:"role"`
	Active *bool  `yaml:"active"`
}

// ParseSeed decodes and validates a seed document. Unknown keys are rejected.
func ParseSeed(r io.Reader) (Seed, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var doc seedDocument
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Seed{}, fmt.Errorf("decode seed: %w", err)
		}
	}

	var (
		seed Seed
		errs []error
	)
	keys := make(map[string]struct{}, len(doc.Services))
	for i, svc := range doc.Services {
		entry, err := svc.entry()
		if err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
			continue
		}
		if _, dup := keys[entry.ServiceKey]; dup {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate key %q", i, entry.ServiceKey))
			continue
		}
		keys[entry.ServiceKey] = struct{}{}
		seed.Services = append(seed.Services, entry)
	}
	for i, u := range doc.Users {
		user, err := u.user()
		if err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: %w", i, err))
			continue
		}
		seed.Users = append(seed.Users, user)
	}
	if err := errors.Join(errs...); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

func (s seedService) entry() (domain.ServiceCatalogEntry, error) {
	key := strings.TrimSpace(s.Key)
	if key == "" {
		return domain.ServiceCatalogEntry{}, errors.New("key is required")
	}
	itemType, err := domain.ParseItemType(s.ItemType)
	if err != nil {
		return domain.ServiceCatalogEntry{}, err
	}
	base, err := decimal.NewFromString(strings.TrimSpace(s.BasePrice))
	if err != nil {
		return domain.ServiceCatalogEntry{}, fmt.Errorf("base_price: %w", err)
	}
	if base.IsNegative() {
		return domain.ServiceCatalogEntry{}, errors.New("base_price must not be negative")
	}
	tax := decimal.Zero
	if raw := strings.TrimSpace(s.TaxPercentage); raw != "" {
		if tax, err = decimal.NewFromString(raw); err != nil {
			return domain.ServiceCatalogEntry{}, fmt.Errorf("tax_percentage: %w", err)
		}
	}
	displayName := strings.TrimSpace(s.DisplayNameKey)
	if displayName == "" {
		displayName = "catalog." + key
	}
	return domain.ServiceCatalogEntry{
		ID:                  "cat_" + key,
		ServiceKey:          key,
		DisplayNameKey:      displayName,
		ItemType:            itemType,
		BasePrice:           domain.RoundMoney(base),
		TaxPercentage:       tax,
		RequiresMeasurement: s.RequiresMeasurement,
		IsActive:            s.Active == nil || *s.Active,
		DisplayOrder:        s.DisplayOrder,
	}, nil
}

func (u seedUser) user() (domain.User, error) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return domain.User{}, errors.New("id is required")
	}
	role := domain.UserRole(strings.ToLower(strings.TrimSpace(u.Role)))
	switch role {
	case domain.UserRoleSuperAdmin, domain.UserRoleAdmin, domain.UserRoleEmployee, domain.UserRoleCustomer:
	default:
		return domain.User{}, fmt.Errorf("unknown role %q", u.Role)
	}
	return domain.User{
		ID:       id,
		Email:    strings.TrimSpace(u.Email),
		Role:     role,
		IsActive: u.Active == nil || *u.Active,
	}, nil
}

// Apply upserts every seed row. Existing rows with the same key are overwritten.
func (s Seed) Apply(ctx context.Context, reg repositories.Registry) error {
	return reg.RunInTx(ctx, func(ctx context.Context) error {
		for _, entry := range s.Services {
			if err := reg.Catalog().Upsert(ctx, entry); err != nil {
				return fmt.Errorf("upsert service %s: %w", entry.ServiceKey, err)
			}
		}
		for _, user := range s.Users {
			if err := reg.Users().Upsert(ctx, user); err != nil {
				return fmt.Errorf("upsert user %s: %w", user.ID, err)
			}
		}
		return nil
	})
}
