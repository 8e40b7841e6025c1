package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFakeXdo(reply string, err error) (*XdoDriver, *[][]string) {
	var calls [][]string
	d := NewXdoDriver(zap.NewNop())
	d.run = func(_ context.Context, args ...string) (string, error) {
		calls = append(calls, args)
		return reply, err
	}
	return d, &calls
}

func TestXdoDriver_ScreenSize(t *testing.T) {
	d, _ := newFakeXdo("1920 1080", nil)
	w, h, err := d.ScreenSize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestXdoDriver_ScreenSizeBadOutput(t *testing.T) {
	d, _ := newFakeXdo("cannot open display", nil)
	_, _, err := d.ScreenSize(context.Background())
	require.Error(t, err)
}

func TestXdoDriver_MoveAndClick(t *testing.T) {
	d, calls := newFakeXdo("", nil)
	require.NoError(t, d.MoveAndClick(context.Background(), 480, 540))

	require.Len(t, *calls, 2)
	assert.Equal(t, []string{"mousemove", "480", "540"}, (*calls)[0])
	assert.Equal(t, []string{"click", "1"}, (*calls)[1])
}

func TestXdoDriver_TypeTextPassesLiteral(t *testing.T) {
	d, calls := newFakeXdo("", nil)
	require.NoError(t, d.TypeText(context.Background(), "--version"))

	require.Len(t, *calls, 1)
	// The separator keeps leading dashes from being parsed as flags.
	assert.Equal(t, []string{"type", "--delay", "50", "--", "--version"}, (*calls)[0])
}

func TestXdoDriver_KeyMapping(t *testing.T) {
	d, calls := newFakeXdo("", nil)
	require.NoError(t, d.KeyDown(context.Background(), "enter"))
	require.NoError(t, d.KeyDown(context.Background(), "command"))
	require.NoError(t, d.KeyUp(context.Background(), "F5"))

	assert.Equal(t, []string{"keydown", "--", "Return"}, (*calls)[0])
	assert.Equal(t, []string{"keydown", "--", "super"}, (*calls)[1])
	assert.Equal(t, []string{"keyup", "--", "F5"}, (*calls)[2])
}

func TestXdoDriver_CommandFailure(t *testing.T) {
	d, _ := newFakeXdo("", errors.New("xdotool not found"))
	require.Error(t, d.Scroll(context.Background()))
	require.Error(t, d.TypeText(context.Background(), "x"))
	_, _, err := d.ScreenSize(context.Background())
	require.Error(t, err)
}
