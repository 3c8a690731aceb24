// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package transport

import (
	"errors"

	"github.com/Thermoquad/bmslink/internal/log"
)

// SocketCAN is only available on Linux
type SocketCAN struct {
	Transport
}

func NewSocketCAN(name string, queueSize int, logger log.Logger) (*SocketCAN, error) {
	return nil, errors.New("SocketCAN is only supported on Linux")
}
