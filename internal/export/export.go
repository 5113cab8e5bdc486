// Package export writes result rows as CSV or JSON and reads CSV back.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/user/netscan/internal/model"
)

// Columns is the header of every export.
var Columns = []string{"IP Address", "MAC Address", "Host Name", "Open Port Number"}

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFor picks the format from an explicit name, or from the extension
// of path when name is empty.
func FormatFor(name, path string) (Format, error) {
	if name == "" {
		name = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	switch Format(strings.ToLower(name)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want csv or json)", name)
	}
}

// Rows renders hosts as table rows in Columns order.
func Rows(hosts []model.HostRecord) [][]string {
	rows := make([][]string, len(hosts))
	for i, h := range hosts {
		rows[i] = []string{h.IP, h.MAC, h.Hostname, h.PortsString()}
	}
	return rows
}

// WriteCSV writes a header line and one line per host.
func WriteCSV(w io.Writer, hosts []model.HostRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(Rows(hosts)); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

type jsonRow struct {
	IP       string `json:"IP Address"`
	MAC      string `json:"MAC Address"`
	Hostname string `json:"Host Name"`
	Ports    string `json:"Open Port Number"`
}

// WriteJSON writes an array with one object per host, keyed by column name.
func WriteJSON(w io.Writer, hosts []model.HostRecord) error {
	rows := make([]jsonRow, len(hosts))
	for i, h := range hosts {
		rows[i] = jsonRow{IP: h.IP, MAC: h.MAC, Hostname: h.Hostname, Ports: h.PortsString()}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// ReadCSV parses a file produced by WriteCSV.
func ReadCSV(r io.Reader) ([]model.HostRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err == io.EOF {
		return []model.HostRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected csv column %d: %q", i+1, header[i])
		}
	}

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	hosts := make([]model.HostRecord, 0, len(records))
	for n, rec := range records {
		h := model.NewHostRecord(rec[0], rec[1], rec[2])
		if rec[3] != "" {
			for _, p := range strings.Split(rec[3], ",") {
				port, err := strconv.Atoi(strings.TrimSpace(p))
				if err != nil {
					return nil, fmt.Errorf("csv line %d: bad port %q", n+2, p)
				}
				h.OpenPorts = append(h.OpenPorts, port)
			}
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// WriteFile exports hosts to path. An empty format is taken from the file
// extension.
func WriteFile(path, format string, hosts []model.HostRecord) error {
	f, err := FormatFor(format, path)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	switch f {
	case FormatJSON:
		err = WriteJSON(file, hosts)
	default:
		err = WriteCSV(file, hosts)
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}
