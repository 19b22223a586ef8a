package service

import (
	"testing"
	"time"

	"gymledger/internal/config"
	"gymledger/internal/testutil"
	"gymledger/pkg/idgen"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db          *gorm.DB
	cfg         *config.Config
	receivables *ReceivableService
	credits     *CreditService
	transitions *TransitionService
	logs        *test.Hook
}

var fixedNow = time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)

	ids, err := idgen.New(1)
	require.NoError(t, err)

	db := testutil.NewDB(t)
	log, hook := test.NewNullLogger()

	receivables := NewReceivableService(db, cfg, ids, nil, log)
	credits := NewCreditService(db, cfg, ids, nil, nil, log)
	transitions := NewTransitionService(db, cfg, ids, receivables, credits, nil, log)

	clock := func() time.Time { return fixedNow }
	receivables.SetClock(clock)
	credits.SetClock(clock)
	transitions.SetClock(clock)

	return &testEnv{
		db:          db,
		cfg:         cfg,
		receivables: receivables,
		credits:     credits,
		transitions: transitions,
		logs:        hook,
	}
}

func (e *testEnv) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Table(table).Count(&n).Error)
	return n
}
