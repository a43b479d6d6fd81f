package camera_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/camera"
)

func open(t *testing.T, m *camera.Mock) camera.Device {
	t.Helper()
	d, err := m.Opener()()
	require.NoError(t, err)
	return d
}

func TestMockWaitFrameTimesOut(t *testing.T) {
	m := camera.NewMock(8, 8)
	d := open(t, m)
	require.NoError(t, d.Setup(4))
	require.NoError(t, d.Start())
	err := d.WaitFrame(5 * time.Millisecond)
	assert.True(t, errors.Is(err, camera.ErrTimeout))
}

func TestMockEmitProducesSubarrayFrame(t *testing.T) {
	m := camera.NewMock(8, 8)
	m.Pattern = func(x, y, n int) uint16 { return uint16(100*n + 10*y + x) }
	d := open(t, m)
	require.NoError(t, d.SetSubarray(camera.AOI{Left: 0, Top: 4, Width: 8, Height: 4}))
	require.NoError(t, d.Setup(2))
	require.NoError(t, d.Start())
	m.Emit(1)
	require.NoError(t, d.WaitFrame(time.Second))
	f, err := d.ReadNewest()
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.Len(t, f.Pix, 32)
	assert.Equal(t, uint16(100+40+0), f.Pix[0])
	assert.Equal(t, uint16(100+70+7), f.Pix[31])
}

func TestMockSubarrayAlignment(t *testing.T) {
	m := camera.NewMock(8, 8)
	d := open(t, m)
	err := d.SetSubarray(camera.AOI{Top: 1, Width: 8, Height: 4})
	assert.True(t, errors.Is(err, camera.ErrUnsupported))
	assert.Equal(t, camera.AOI{Width: 8, Height: 8}, m.Subarray())

	m.RejectSubarray = true
	err = d.SetSubarray(camera.AOI{Top: 4, Width: 8, Height: 4})
	assert.Error(t, err)
}

func TestMockUnsupportedAttribute(t *testing.T) {
	m := camera.NewMock(4, 4)
	m.Unsupported = map[camera.Attribute]bool{camera.ConversionCoeff: true}
	d := open(t, m)
	_, err := d.GetAttribute(camera.ConversionCoeff)
	var ae camera.AttributeError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, camera.ConversionCoeff, ae.Attr)
	assert.True(t, errors.Is(err, camera.ErrUnsupported))

	v, err := d.GetAttribute(camera.ConversionOffset)
	require.NoError(t, err)
	assert.Equal(t, 100., v)
}

func TestMockInjectedErrors(t *testing.T) {
	m := camera.NewMock(4, 4)
	d := open(t, m)
	require.NoError(t, d.Setup(1))
	require.NoError(t, d.Start())
	boom := errors.New("boom")
	m.InjectWaitErrors(camera.ErrTimeout, boom)
	assert.Equal(t, camera.ErrTimeout, d.WaitFrame(time.Second))
	assert.Equal(t, boom, d.WaitFrame(time.Second))
	assert.Equal(t, 0, m.PendingWaitErrors())
}

func TestMockFreeRunning(t *testing.T) {
	m := camera.NewMock(4, 4)
	m.FrameRate = 500
	d := open(t, m)
	require.NoError(t, d.Setup(1))
	require.NoError(t, d.Start())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.WaitFrame(time.Second))
	}
	require.NoError(t, d.Stop())
	require.NoError(t, d.Close())
	assert.True(t, m.Closed())
	opens, closes, starts, stops := m.Counts()
	assert.Equal(t, []int{1, 1, 1, 1}, []int{opens, closes, starts, stops})
}

func TestMockClosedRejectsCalls(t *testing.T) {
	m := camera.NewMock(4, 4)
	d := open(t, m)
	require.NoError(t, d.Close())
	assert.Equal(t, camera.ErrClosed, d.SetAttribute(camera.ExposureTime, 1))
	assert.Equal(t, camera.ErrClosed, d.WaitFrame(time.Millisecond))
}
