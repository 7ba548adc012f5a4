// Package tasks is the shared room task list. Any member may create, toggle,
// or delete tasks; the only ordering is creation time, newest first.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mcdev12/focusroom/go/internal/room"
	"github.com/mcdev12/focusroom/go/internal/store"
)

// ErrTaskNotFound means no task exists with the given id in the room.
var ErrTaskNotFound = errors.New("tasks: task not found")

// Service reads and mutates room tasks.
type Service struct {
	store store.Store
}

// NewService creates a task Service on top of the shared store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Create adds a task and returns its id.
func (s *Service) Create(ctx context.Context, roomID string, by room.User, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("tasks: title must not be empty")
	}

	now, err := s.store.ServerNow(ctx)
	if err != nil {
		return "", fmt.Errorf("get server time: %w", err)
	}

	t := room.Task{
		ID:            uuid.NewString(),
		Title:         title,
		Completed:     false,
		CreatedBy:     by.ID,
		CreatedByName: by.Name,
		Timestamp:     room.Millis(now),
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}

	if err := s.store.Set(ctx, room.TaskPath(roomID, t.ID), data); err != nil {
		return "", fmt.Errorf("write task: %w", err)
	}
	return t.ID, nil
}

// Toggle flips a task's completed flag, stamping or clearing completedAt.
func (s *Service) Toggle(ctx context.Context, roomID, taskID string) error {
	data, err := s.store.Get(ctx, room.TaskPath(roomID, taskID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return ErrTaskNotFound
	}
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}

	var t room.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}

	fields := map[string]any{"completed": !t.Completed}
	if t.Completed {
		fields["completedAt"] = nil
	} else {
		now, err := s.store.ServerNow(ctx)
		if err != nil {
			return fmt.Errorf("get server time: %w", err)
		}
		fields["completedAt"] = room.Millis(now)
	}

	if err := s.store.Merge(ctx, room.TaskPath(roomID, taskID), fields); err != nil {
		return fmt.Errorf("toggle task: %w", err)
	}
	return nil
}

// Delete removes a task. Deleting an absent task is not an error.
func (s *Service) Delete(ctx context.Context, roomID, taskID string) error {
	if err := s.store.Delete(ctx, room.TaskPath(roomID, taskID)); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// List returns a room's tasks, newest first.
func (s *Service) List(ctx context.Context, roomID string) ([]room.Task, error) {
	docs, err := s.store.List(ctx, room.TasksPrefix(roomID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]room.Task, 0, len(docs))
	for path, data := range docs {
		var t room.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", path, err)
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
