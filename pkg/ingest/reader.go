package ingest

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"

	"connscope/internal/models"
	"connscope/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IngestError reports an upstream parsing or decompression failure. It is
// fatal: the run aborts before rule evaluation begins.
type IngestError struct {
	Path   string
	Reason string
	Err    error
}

func (e *IngestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingest %s: %s", e.Path, e.Reason)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// Reader parses Zeek conn logs into connection records.
type Reader struct {
	strict bool
	logger *log.Logger
}

// NewReader returns a reader honoring the configured validation policy.
func NewReader(cfg config.IngestConfig, logger *log.Logger) *Reader {
	return &Reader{strict: cfg.Strict, logger: logger}
}

// GatherLogFiles reads the given paths and directories looking for .log and
// .gz conn log files. Anything else is ignored with a warning.
func GatherLogFiles(paths []string, logger *log.Logger) []string {
	var toReturn []string

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.WithFields(log.Fields{
				"error": err.Error(),
				"path":  p,
			}).Warn("Skipping unreadable path")
			continue
		}
		if info.IsDir() {
			toReturn = append(toReturn, gatherDir(p, logger)...)
		} else if strings.HasSuffix(p, ".gz") || strings.HasSuffix(p, ".log") {
			toReturn = append(toReturn, p)
		} else {
			logger.WithFields(log.Fields{
				"path": p,
			}).Warn("Ignoring non .log or .gz file")
		}
	}

	return toReturn
}

func gatherDir(cpath string, logger *log.Logger) []string {
	var toReturn []string
	files, err := os.ReadDir(cpath)
	if err != nil {
		logger.WithFields(log.Fields{
			"error": err.Error(),
			"path":  cpath,
		}).Error("Error when reading directory")
	}

	for _, file := range files {
		if !file.IsDir() && (strings.HasSuffix(file.Name(), ".gz") ||
			strings.HasSuffix(file.Name(), ".log")) {
			toReturn = append(toReturn, path.Join(cpath, file.Name()))
		}
	}
	return toReturn
}

// ReadFiles parses every given file into one batch, preserving file order and
// line order within each file. Record positions in the returned slice are the
// stable references the detection engine reports matches against.
func (r *Reader) ReadFiles(files []string) ([]models.ConnRecord, error) {
	var records []models.ConnRecord
	for _, file := range files {
		fileRecords, err := r.readFile(file)
		if err != nil {
			return nil, err
		}
		records = append(records, fileRecords...)
	}
	return records, nil
}

func (r *Reader) readFile(filePath string) ([]models.ConnRecord, error) {
	fileHandle, err := os.Open(filePath)
	if err != nil {
		return nil, &IngestError{Path: filePath, Reason: "cannot open file", Err: err}
	}
	defer fileHandle.Close()

	var reader io.Reader = fileHandle
	if strings.HasSuffix(filePath, ".gz") {
		gzipReader, err := gzip.NewReader(fileHandle)
		if err != nil {
			return nil, &IngestError{Path: filePath, Reason: "decompression failed", Err: err}
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var records []models.ConnRecord
	var fields []string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#fields"):
			fields = strings.Split(line, "\t")[1:]
			continue
		case strings.HasPrefix(line, "#"):
			// separator, set_separator, open, close, types...
			continue
		}

		var record models.ConnRecord
		var parseErr error
		if strings.HasPrefix(line, "{") {
			record, parseErr = parseJSONLine(line)
		} else {
			if fields == nil {
				return nil, &IngestError{Path: filePath, Reason: fmt.Sprintf("line %d: data before #fields header", lineNo)}
			}
			record, parseErr = parseTSVLine(fields, line)
		}
		if parseErr != nil {
			return nil, &IngestError{Path: filePath, Reason: fmt.Sprintf("corrupt record at line %d", lineNo), Err: parseErr}
		}

		if err := record.Validate(); err != nil {
			if r.strict {
				return nil, fmt.Errorf("%s line %d: %w", filePath, lineNo, err)
			}
			r.logger.WithFields(log.Fields{
				"path":  filePath,
				"line":  lineNo,
				"error": err.Error(),
			}).Warn("Dropping invalid record")
			continue
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, &IngestError{Path: filePath, Reason: "read failed", Err: err}
	}

	return records, nil
}

// jsonConn matches Zeek's JSON conn.log schema. Timestamps arrive either as
// epoch floats (Zeek's default) or RFC3339 strings.
type jsonConn struct {
	TS          zeekTime `json:"ts"`
	UID         string   `json:"uid"`
	SrcIP       string   `json:"id.orig_h"`
	SrcPort     int      `json:"id.orig_p"`
	DstIP       string   `json:"id.resp_h"`
	DstPort     int      `json:"id.resp_p"`
	Proto       string   `json:"proto"`
	Service     string   `json:"service"`
	Duration    *float64 `json:"duration"`
	OrigBytes   int64    `json:"orig_bytes"`
	RespBytes   int64    `json:"resp_bytes"`
	ConnState   string   `json:"conn_state"`
	History     string   `json:"history"`
	OrigPackets int64    `json:"orig_pkts"`
	RespPackets int64    `json:"resp_pkts"`
}

type zeekTime struct {
	time.Time
}

func (t *zeekTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = epochToTime(epoch)
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("unparsable timestamp %q", s)
	}
	t.Time = parsed
	return nil
}

func parseJSONLine(line string) (models.ConnRecord, error) {
	var entry jsonConn
	if err := json.UnmarshalFromString(line, &entry); err != nil {
		return models.ConnRecord{}, err
	}

	srcIP := net.ParseIP(entry.SrcIP)
	dstIP := net.ParseIP(entry.DstIP)
	if srcIP == nil || dstIP == nil {
		return models.ConnRecord{}, fmt.Errorf("unparsable address %q -> %q", entry.SrcIP, entry.DstIP)
	}

	return models.ConnRecord{
		Timestamp:     entry.TS.Time,
		UID:           entry.UID,
		OriginHost:    srcIP,
		OriginPort:    entry.SrcPort,
		ResponderHost: dstIP,
		ResponderPort: entry.DstPort,
		Protocol:      strings.ToLower(entry.Proto),
		Service:       entry.Service,
		Duration:      entry.Duration,
		OrigBytes:     entry.OrigBytes,
		RespBytes:     entry.RespBytes,
		ConnState:     entry.ConnState,
		History:       entry.History,
		OrigPackets:   entry.OrigPackets,
		RespPackets:   entry.RespPackets,
	}, nil
}

func parseTSVLine(fields []string, line string) (models.ConnRecord, error) {
	values := strings.Split(line, "\t")
	if len(values) != len(fields) {
		return models.ConnRecord{}, fmt.Errorf("expected %d columns, got %d", len(fields), len(values))
	}

	var record models.ConnRecord
	for i, field := range fields {
		value := values[i]
		if value == "-" || value == "(empty)" {
			continue
		}

		var err error
		switch field {
		case "ts":
			var epoch float64
			if epoch, err = strconv.ParseFloat(value, 64); err == nil {
				record.Timestamp = epochToTime(epoch)
			}
		case "uid":
			record.UID = value
		case "id.orig_h":
			if record.OriginHost = net.ParseIP(value); record.OriginHost == nil {
				err = fmt.Errorf("unparsable address %q", value)
			}
		case "id.orig_p":
			record.OriginPort, err = strconv.Atoi(value)
		case "id.resp_h":
			if record.ResponderHost = net.ParseIP(value); record.ResponderHost == nil {
				err = fmt.Errorf("unparsable address %q", value)
			}
		case "id.resp_p":
			record.ResponderPort, err = strconv.Atoi(value)
		case "proto":
			record.Protocol = strings.ToLower(value)
		case "service":
			record.Service = value
		case "duration":
			var duration float64
			if duration, err = strconv.ParseFloat(value, 64); err == nil {
				record.Duration = &duration
			}
		case "orig_bytes":
			record.OrigBytes, err = strconv.ParseInt(value, 10, 64)
		case "resp_bytes":
			record.RespBytes, err = strconv.ParseInt(value, 10, 64)
		case "conn_state":
			record.ConnState = value
		case "history":
			record.History = value
		case "orig_pkts":
			record.OrigPackets, err = strconv.ParseInt(value, 10, 64)
		case "resp_pkts":
			record.RespPackets, err = strconv.ParseInt(value, 10, 64)
		default:
			// columns outside the standard conn.log schema are ignored
		}
		if err != nil {
			return models.ConnRecord{}, fmt.Errorf("field %s: %w", field, err)
		}
	}

	return record, nil
}

func epochToTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}
