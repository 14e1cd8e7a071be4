package catalog

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Load reads a catalog file. A '.csv' extension selects comma-separated
// parsing; anything else is treated as whitespace-delimited columns
// with the column names on the first non-comment line. Lines starting
// with '#' are skipped in both formats.
func Load(filename string) (Table, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open catalog '%s': %v", filename, err)
	}
	defer f.Close()

	var t Table
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		t, err = readCSV(f)
	default:
		t, err = readColumns(f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse catalog '%s': %v", filename, err)
	}
	return t, nil
}

func readColumns(r io.Reader) (Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var header []string
	var rows [][]string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if header == nil {
			header = fields
			continue
		}
		rows = append(rows, fields)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("no header line found")
	}
	return fromRecords(header, rows)
}

func readCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no header line found")
	}
	return fromRecords(records[0], records[1:])
}

func fromRecords(header []string, rows [][]string) (Table, error) {
	col := map[string]int{}
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"ra", "dec"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing required column '%s'", required)
		}
	}

	t := make(Table, 0, len(rows))
	for n, rec := range rows {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("row %d: %d fields, header has %d", n+1, len(rec), len(header))
		}
		var g Gal
		for name, i := range col {
			raw := strings.TrimSpace(rec[i])
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column '%s': %v", n+1, name, err)
			}
			switch name {
			case "galtileid", "id":
				g.ID = int64(v)
			case "ra":
				g.RA = v
			case "dec":
				g.Dec = v
			case "redshift":
				g.Redshift = v
			case "fluxnorm_bulge":
				g.FluxnormBulge = v
			case "fluxnorm_disk":
				g.FluxnormDisk = v
			case "fluxnorm_agn":
				g.FluxnormAGN = v
			case "a_b":
				g.ABulge = v
			case "b_b":
				g.BBulge = v
			case "a_d":
				g.ADisk = v
			case "b_d":
				g.BDisk = v
			case "pa_bulge":
				g.PABulge = v
			case "pa_disk":
				g.PADisk = v
			case "u_ab":
				g.MagU = v
			case "g_ab":
				g.MagG = v
			case "r_ab":
				g.MagR = v
			case "i_ab":
				g.MagI = v
			case "z_ab":
				g.MagZ = v
			case "y_ab":
				g.MagY = v
			case "grp_id":
				g.GroupID = int64(v)
			case "grp_size":
				g.GroupSize = int64(v)
			case "db_id":
				g.DBID = int64(v)
			default:
				// Unrecognized columns are carried by real catalogs in
				// abundance; ignore them.
			}
		}
		t = append(t, g)
	}
	return t, nil
}
