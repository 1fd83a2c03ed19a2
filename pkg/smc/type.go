//go:build darwin

package smc

import (
	"github.com/charlie0129/gosmc"
)

// Connection is the subset of gosmc.Connection used here.
type Connection interface {
	Open() error
	Close() error
	Read(key string) (gosmc.SMCVal, error)
}
