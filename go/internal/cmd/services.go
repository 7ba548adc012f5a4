package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/focusroom/go/internal/chat"
	"github.com/mcdev12/focusroom/go/internal/gateway"
	"github.com/mcdev12/focusroom/go/internal/presence"
	"github.com/mcdev12/focusroom/go/internal/registry"
	"github.com/mcdev12/focusroom/go/internal/session"
	"github.com/mcdev12/focusroom/go/internal/store"
	"github.com/mcdev12/focusroom/go/internal/tasks"
)

type Services struct {
	Registry *registry.Registry
	Presence *presence.Tracker
	Sessions *session.Service
	Chat     *chat.Service
	Tasks    *tasks.Service
	Gateway  *gateway.Service
}

func setupServices(st store.Store, clock clockwork.Clock) *Services {
	// Wire up dependency injection chain
	// Store layer → room services → gateway
	tracker := presence.New(st)
	reg := registry.New(st, tracker)
	sessions := session.NewService(st)
	chatSvc := chat.NewService(st)
	taskSvc := tasks.NewService(st)

	gw := gateway.NewService(gateway.DefaultConfig(), gateway.Deps{
		Store:    st,
		Clock:    clock,
		Registry: reg,
		Sessions: sessions,
		Presence: tracker,
		Chat:     chatSvc,
		Tasks:    taskSvc,
	})

	return &Services{
		Registry: reg,
		Presence: tracker,
		Sessions: sessions,
		Chat:     chatSvc,
		Tasks:    taskSvc,
		Gateway:  gw,
	}
}
