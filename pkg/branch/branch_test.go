package branch_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/branch"
	"github.com/cuemby/loom/pkg/ids"
	"github.com/cuemby/loom/pkg/rterrors"
	"github.com/cuemby/loom/pkg/storage"
	"github.com/cuemby/loom/pkg/turn"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.Init(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestNewManagerSeedsMainBranch(t *testing.T) {
	m, err := branch.NewManager(newStore(t))
	require.NoError(t, err)

	b, err := m.Get(ids.Main)
	require.NoError(t, err)
	require.Equal(t, turn.ZeroTurnID, b.HeadTurn)
	require.Nil(t, b.Parent)
}

func TestForkDivergentHead(t *testing.T) {
	m, err := branch.NewManager(newStore(t))
	require.NoError(t, err)

	t10 := turn.TurnID("turn_t10")
	require.NoError(t, m.UpdateHead(ids.Main, t10))

	experiment := ids.BranchId("experiment")
	_, err = m.Fork(ids.Main, experiment, t10)
	require.NoError(t, err)

	require.NoError(t, m.UpdateHead(ids.Main, "turn_main_13"))
	require.NoError(t, m.UpdateHead(experiment, "turn_exp_13"))

	mainHead, err := m.Head(ids.Main)
	require.NoError(t, err)
	expHead, err := m.Head(experiment)
	require.NoError(t, err)
	require.NotEqual(t, mainHead, expHead)

	branches := m.List()
	require.Len(t, branches, 2)

	lca, err := m.FindLCA(ids.Main, experiment)
	require.NoError(t, err)
	require.Equal(t, t10, lca)
}

func TestForkRejectsDuplicateName(t *testing.T) {
	m, err := branch.NewManager(newStore(t))
	require.NoError(t, err)

	_, err = m.Fork(ids.Main, ids.Main, turn.ZeroTurnID)
	require.Error(t, err)
	var branchErr *rterrors.BranchError
	require.True(t, errors.As(err, &branchErr))
	require.Equal(t, rterrors.BranchAlreadyExists, branchErr.Kind)
}

func TestMergeNotImplemented(t *testing.T) {
	m, err := branch.NewManager(newStore(t))
	require.NoError(t, err)

	err = m.Merge(ids.Main, ids.Main)
	require.ErrorIs(t, err, rterrors.ErrBranchMergeNotImplemented)
}
