package grouplimit

import (
	"testing"

	"github.com/gamegov/optimizer/internal/osfacade"
	"github.com/gamegov/optimizer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_CreatesThenReuses(t *testing.T) {
	facade := osfacade.NewSim()
	m := New(facade)

	g1, err := m.Ensure("group_100")
	require.NoError(t, err)
	g2, err := m.Ensure("group_100")
	require.NoError(t, err)
	assert.Equal(t, g1.Handle, g2.Handle)
}

func TestSetCPURate_ValidatesRange(t *testing.T) {
	facade := osfacade.NewSim()
	m := New(facade)
	require.NoError(t, m.SetCPURate("group_1", 50))
	require.Error(t, m.SetCPURate("group_1", 0))
	require.Error(t, m.SetCPURate("group_1", 101))
}

func TestAssign_UnionsAcrossGroups(t *testing.T) {
	facade := osfacade.NewSim()
	m := New(facade)

	h, err := facade.OpenProcess(types.ProcessId(1))
	require.NoError(t, err)

	require.NoError(t, m.Assign("group_a", h, types.ProcessId(1)))
	require.NoError(t, m.Assign("group_b", h, types.ProcessId(1)))

	groups := m.Groups()
	assert.Len(t, groups, 2)
	for _, g := range groups {
		_, ok := g.Members[types.ProcessId(1)]
		assert.True(t, ok)
	}
}

func TestClose_DestroysEveryGroup(t *testing.T) {
	facade := osfacade.NewSim()
	m := New(facade)
	_, err := m.Ensure("group_x")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	assert.Empty(t, m.Groups())
}

func TestGroupName_StableAcrossCalls(t *testing.T) {
	assert.Equal(t, "group_42", GroupName(types.ProcessId(42)))
	assert.Equal(t, GroupName(types.ProcessId(42)), GroupName(types.ProcessId(42)),
		"the same root pid must derive the same group name every call so Ensure reuses one Job Object across replans")
}
