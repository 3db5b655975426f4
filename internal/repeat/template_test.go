package repeat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treebranchleaf/tbl/internal/repeat"
)

func TestValidateTemplateIDs(t *testing.T) {
	assert.NoError(t, repeat.ValidateTemplateIDs(nil))
	assert.NoError(t, repeat.ValidateTemplateIDs([]string{"R", "C1"}))
	assert.ErrorIs(t, repeat.ValidateTemplateIDs([]string{"R", "C1-1"}), repeat.ErrTemplateSuffixed)
	assert.NoError(t, repeat.ValidateTemplateIDs([]string{"3f2b8c9e-1a2b-4c3d-9e8f-000000000123"}), "uuid tail is not a suffix")
}

func TestSetRepeaterTemplate(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)
	ctx := context.Background()

	require.NoError(t, dup.SetRepeaterTemplate(ctx, "rep", []string{"R", "C1", "R"}))
	assert.Equal(t, []string{"R", "C1"}, mustNode(t, d, "rep").RepeaterTemplateNodeIDs)

	err := dup.SetRepeaterTemplate(ctx, "rep", []string{"R-1"})
	assert.ErrorIs(t, err, repeat.ErrTemplateSuffixed)

	err = dup.SetRepeaterTemplate(ctx, "rep", []string{"ghost"})
	assert.ErrorIs(t, err, repeat.ErrNotFound)

	err = dup.SetRepeaterTemplate(ctx, "ghost", []string{"R"})
	assert.ErrorIs(t, err, repeat.ErrNotFound)

	assert.Equal(t, []string{"R", "C1"}, mustNode(t, d, "rep").RepeaterTemplateNodeIDs, "failed calls write nothing")
}

func TestRepairTemplates(t *testing.T) {
	d := setupStore(t, roofTemplate())
	dup := repeat.NewDuplicator(d)
	ctx := context.Background()

	// Stale lists can only come from outside the duplicator.
	require.NoError(t, d.Session().UpdateRepeaterTemplate(ctx, "rep", []string{"R-1", "R", "C1-2-3"}))

	repairs, err := dup.RepairTemplates(ctx, true)
	require.NoError(t, err)
	require.Len(t, repairs, 1)
	assert.Equal(t, repeat.TemplateRepair{
		RepeaterID: "rep",
		Before:     []string{"R-1", "R", "C1-2-3"},
		After:      []string{"R", "C1"},
	}, repairs[0])
	assert.Equal(t, []string{"R-1", "R", "C1-2-3"}, mustNode(t, d, "rep").RepeaterTemplateNodeIDs, "dry run writes nothing")

	_, err = dup.RepairTemplates(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"R", "C1"}, mustNode(t, d, "rep").RepeaterTemplateNodeIDs)

	again, err := dup.RepairTemplates(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, again)
}
