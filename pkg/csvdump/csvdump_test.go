package csvdump

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/device"
	"github.com/stretchr/testify/assert"
)

func TestWriteDeviceHeaderAndRows(t *testing.T) {
	snap := device.Snapshot{
		ChannelsCount: 2,
		AbsIndex:      []int64{0, 1},
		Samples:       [][]int16{{10, 11}, {-5, -6}},
		ErrFlags:      [][]uint8{{0, 0}, {1, 1}},
	}
	var buf bytes.Buffer
	err := WriteDevice(&buf, snap, time.Second/200000)
	assert.Nil(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, 3, len(lines)) // header + 2 rows
	assert.Equal(t, "abs_index,t_seconds,ch0,ch0_err,ch1,ch1_err", lines[0])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "192.168.2.5.csv", FileName("192.168.2.5"))
}
