package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestBreadcrumbs_RecordsEntriesAboveLevel(t *testing.T) {
	l, err := New(Options{Level: "warn", Breadcrumbs: 10})
	require.NoError(t, err)

	l.Named("monitor").Info("dropped")
	l.Named("monitor").Warn("kept")

	crumbs := l.Breadcrumbs()
	require.Len(t, crumbs, 1)
	assert.Equal(t, "kept", crumbs[0].Message)
	assert.Equal(t, "warn", crumbs[0].Level)
	assert.Equal(t, "monitor", crumbs[0].Logger)
}

func TestBreadcrumbRing_Wraps(t *testing.T) {
	r := newBreadcrumbRing(3)
	for i := 0; i < 5; i++ {
		r.add(Breadcrumb{Message: fmt.Sprintf("m%d", i)})
	}

	got := r.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "m2", got[0].Message)
	assert.Equal(t, "m3", got[1].Message)
	assert.Equal(t, "m4", got[2].Message)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Logger.Error("ignored")
	assert.Empty(t, l.Breadcrumbs())
}
