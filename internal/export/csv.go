// internal/export/csv.go
package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"scope-service/internal/model"
)

// Header names the five columns. It is written as a comment line.
const Header = "Time [s], Read CH1, Read CH2, Voltage CH1 [V], Voltage CH2 [V]"

// ErrEmpty is returned when there is nothing to export
var ErrEmpty = errors.New("no waveforms to export")

// Table is a decoded export. Channels that were not captured are absent from
// the maps.
type Table struct {
	Time    []float64
	Raw     map[model.Channel][]int
	Voltage map[model.Channel][]float64
}

// Encode writes one row per sample. The time column is taken from CH1 when it
// was captured, otherwise from CH2; an uncaptured channel leaves its columns
// empty.
func Encode(w io.Writer, waveforms map[model.Channel]*model.Waveform) error {
	reference := referenceWaveform(waveforms)
	if reference == nil {
		return ErrEmpty
	}
	n := reference.Len()

	for _, channel := range model.Channels {
		if wf := waveforms[channel]; wf != nil && wf.Len() != n {
			return fmt.Errorf("%s has %d samples, %s has %d", channel, wf.Len(), reference.Channel, n)
		}
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("# " + Header + "\n"); err != nil {
		return err
	}

	cw := csv.NewWriter(bw)
	ch1, ch2 := waveforms[model.ChannelCH1], waveforms[model.ChannelCH2]
	record := make([]string, 5)
	for i := 0; i < n; i++ {
		record[0] = formatFloat(reference.Time[i])
		record[1], record[3] = formatSample(ch1, i)
		record[2], record[4] = formatSample(ch2, i)
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a file produced by Encode
func Decode(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(first), "#")) != Header {
		return nil, fmt.Errorf("%w: unexpected header %q", model.ErrParse, strings.TrimSpace(first))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = 5
	cr.Comment = '#'

	table := &Table{
		Raw:     make(map[model.Channel][]int),
		Voltage: make(map[model.Channel][]float64),
	}
	present := map[model.Channel]bool{}

	for row := 0; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrParse, err)
		}

		t, err := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d time %q", model.ErrParse, row, record[0])
		}
		table.Time = append(table.Time, t)

		for c, channel := range model.Channels {
			rawField := strings.TrimSpace(record[1+c])
			voltField := strings.TrimSpace(record[3+c])

			has := rawField != "" || voltField != ""
			if row == 0 {
				present[channel] = has
			} else if has != present[channel] {
				return nil, fmt.Errorf("%w: row %d %s columns are inconsistent", model.ErrParse, row, channel)
			}
			if !has {
				continue
			}

			raw, err := strconv.Atoi(rawField)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d read %s %q", model.ErrParse, row, channel, rawField)
			}
			volt, err := strconv.ParseFloat(voltField, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d voltage %s %q", model.ErrParse, row, channel, voltField)
			}
			table.Raw[channel] = append(table.Raw[channel], raw)
			table.Voltage[channel] = append(table.Voltage[channel], volt)
		}
	}

	return table, nil
}

func referenceWaveform(waveforms map[model.Channel]*model.Waveform) *model.Waveform {
	for _, channel := range model.Channels {
		if wf := waveforms[channel]; wf != nil {
			return wf
		}
	}
	return nil
}

func formatSample(wf *model.Waveform, i int) (string, string) {
	if wf == nil {
		return "", ""
	}
	return strconv.Itoa(wf.Raw[i]), formatFloat(wf.Voltage[i])
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
