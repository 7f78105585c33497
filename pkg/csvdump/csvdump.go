// Package csvdump is the CSV exporter external collaborator: given a
// device's ring-buffer snapshot, it writes one row per absolute-index
// sample with per-channel signal and error-flag columns.
package csvdump

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/CaTiSCZ/plotter/pkg/device"
)

// WriteDevice writes snap as CSV to w. samplePeriod is the nominal time
// between consecutive absolute-index samples (1/200000s at the default
// 200 samples/ms rate), used to derive the t_seconds column.
func WriteDevice(w io.Writer, snap device.Snapshot, samplePeriod time.Duration) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := make([]string, 0, 2+2*snap.ChannelsCount)
	header = append(header, "abs_index", "t_seconds")
	for ch := 0; ch < snap.ChannelsCount; ch++ {
		header = append(header, fmt.Sprintf("ch%d", ch), fmt.Sprintf("ch%d_err", ch))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, absIndex := range snap.AbsIndex {
		row[0] = fmt.Sprintf("%d", absIndex)
		row[1] = fmt.Sprintf("%.6f", float64(absIndex)*samplePeriod.Seconds())
		for ch := 0; ch < snap.ChannelsCount; ch++ {
			row[2+2*ch] = fmt.Sprintf("%d", snap.Samples[ch][i])
			row[3+2*ch] = fmt.Sprintf("%d", snap.ErrFlags[ch][i])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName returns the per-device CSV file name this package's caller
// should use, named by device IP per the file-per-device convention.
func FileName(deviceIP string) string {
	return deviceIP + ".csv"
}
