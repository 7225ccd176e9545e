package app

import (
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dkeye/Parley/internal/core"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) CloseWith(int, string)    {}
func (nopConn) Close()                   {}
