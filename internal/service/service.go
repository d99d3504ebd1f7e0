// Package service coordinates sessions, messages, access control and live connections.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xiaot623/gogo/chatroom/internal/config"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
	"github.com/xiaot623/gogo/chatroom/policy"
)

// Service owns every chat component. Create it with New and release it with Close.
type Service struct {
	store        repository.Store
	hub          *hub.Hub
	policyEngine *policy.Engine
	config       *config.Config

	Sessions *SessionManager
	Messages *MessageStore
	Access   *AccessControl

	log *slog.Logger
}

// New wires the components and seeds the admin credential from cfg when none is stored.
func New(ctx context.Context, store repository.Store, h *hub.Hub, policyEngine *policy.Engine, cfg *config.Config) (*Service, error) {
	access, err := NewAccessControl(store, cfg.PasswordHashCost)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:        store,
		hub:          h,
		policyEngine: policyEngine,
		config:       cfg,
		Sessions:     NewSessionManager(store, access),
		Messages:     NewMessageStore(store),
		Access:       access,
		log:          observability.WithComponent("service"),
	}

	if cfg.AdminPassword != "" {
		has, err := access.HasAdminPassword(ctx)
		if err != nil {
			return nil, err
		}
		if !has {
			if err := access.SetAdminPassword(ctx, cfg.AdminPassword); err != nil {
				return nil, fmt.Errorf("failed to seed admin password: %w", err)
			}
		}
	}

	return svc, nil
}

// Hub returns the connection registry.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Close disconnects every client and closes the store.
func (s *Service) Close() error {
	n := s.hub.CloseAll()
	s.log.Info("service closed", "connections", n)
	return s.store.Close()
}
