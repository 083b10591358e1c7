// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package storage

import (
	"errors"

	"github.com/couchbaselabs/monitormanager/pkg/values"
)

// ErrUserAlreadyExists is returned when adding a user whose name is already taken.
var ErrUserAlreadyExists = errors.New("user already exists")

type Store interface {
	IsInitialized() (bool, error)
	Close() error

	// manager user functions
	AddUser(user *values.User) error
	GetUser(user string) (*values.User, error)

	// monitor definition management functions
	AddMonitor(monitor *values.Monitor) error
	GetMonitor(id string) (*values.Monitor, error)
	GetMonitors() ([]*values.Monitor, error)
	UpdateMonitor(monitor *values.Monitor) error
	DeleteMonitor(id string) error

	// evaluation state functions
	SetMonitorState(state *values.MonitorState) error
	GetMonitorStates(search values.StateSearch) ([]*values.MonitorState, error)
	DeleteMonitorStates(search values.StateSearch) error
	DeleteStatesForUnknownMonitors(knownMonitors []string) (int64, error)

	// silence functions
	AddSilence(silence *values.Silence) error
	GetSilences(search values.SilenceSearch) ([]*values.Silence, error)
	DeleteSilence(id string) error
	DeleteExpiredSilences() (int64, error)
	DeleteSilencesForUnknownMonitors(knownMonitors []string) (int64, error)
}
