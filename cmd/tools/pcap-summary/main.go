// Package main summarises the pcap files written by slip-capture: packet
// counts, lengths, wire overhead and the capture time span.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/slip.capture/internal/slip"
)

// Config holds the command line options.
type Config struct {
	Path   string
	Output string
	Quiet  bool
}

// Summary describes one or more pcap files of decoded SLIP packets.
type Summary struct {
	Files        []string        `json:"files"`
	LinkType     layers.LinkType `json:"link_type"`
	Packets      int             `json:"packets"`
	Bytes        int             `json:"bytes"`
	EncodedBytes int             `json:"encoded_bytes"` // framed size on the wire, both ENDs included
	MinLength    int             `json:"min_length"`
	MaxLength    int             `json:"max_length"`
	MeanLength   float64         `json:"mean_length"`
	First        time.Time       `json:"first"`
	Last         time.Time       `json:"last"`
	DurationSecs float64         `json:"duration_secs"`
	Lengths      map[int]int     `json:"lengths"`
}

func newSummary() *Summary {
	return &Summary{Lengths: make(map[int]int)}
}

// add folds one packet into the summary.
func (s *Summary) add(data []byte, at time.Time) {
	n := len(data)
	if s.Packets == 0 || n < s.MinLength {
		s.MinLength = n
	}
	if n > s.MaxLength {
		s.MaxLength = n
	}
	if s.First.IsZero() || at.Before(s.First) {
		s.First = at
	}
	if at.After(s.Last) {
		s.Last = at
	}
	s.Packets++
	s.Bytes += n
	s.EncodedBytes += len(slip.Encode(data))
	s.Lengths[n]++
}

func (s *Summary) finish() {
	if s.Packets > 0 {
		s.MeanLength = float64(s.Bytes) / float64(s.Packets)
		s.DurationSecs = s.Last.Sub(s.First).Seconds()
	}
}

// summariseReader adds every packet of one pcap stream to s.
func summariseReader(s *Summary, r io.Reader) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}
	if len(s.Files) > 1 && pr.LinkType() != s.LinkType {
		return fmt.Errorf("link type %v does not match %v", pr.LinkType(), s.LinkType)
	}
	s.LinkType = pr.LinkType()

	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", s.Packets+1, err)
		}
		s.add(data, ci.Timestamp)
	}
}

// pcapFiles expands path to the pcap files it names. A directory yields every
// *.pcap inside it in name order.
func pcapFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	files, err := filepath.Glob(filepath.Join(path, "*.pcap"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .pcap files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}

// summarise reads every pcap file under path.
func summarise(path string) (*Summary, error) {
	files, err := pcapFiles(path)
	if err != nil {
		return nil, err
	}

	s := newSummary()
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		s.Files = append(s.Files, name)
		err = summariseReader(s, f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	s.finish()
	return s, nil
}

func printSummary(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "Files: %d (link type %v)\n", len(s.Files), s.LinkType)
	fmt.Fprintf(w, "Packets: %d\n", s.Packets)
	if s.Packets == 0 {
		return
	}
	fmt.Fprintf(w, "Bytes: %d decoded, %d on the wire (%.1f%% framing overhead)\n",
		s.Bytes, s.EncodedBytes, 100*float64(s.EncodedBytes-s.Bytes)/float64(s.Bytes))
	fmt.Fprintf(w, "Length: min %d, max %d, mean %.1f\n", s.MinLength, s.MaxLength, s.MeanLength)
	fmt.Fprintf(w, "Span: %s to %s (%.1f seconds)\n",
		s.First.Format(time.RFC3339Nano), s.Last.Format(time.RFC3339Nano), s.DurationSecs)
}

func parseFlags() Config {
	var config Config
	flag.StringVar(&config.Path, "pcap", "packets", "pcap file, or a directory of .pcap files")
	flag.StringVar(&config.Output, "output", "", "Write the summary as JSON to this file")
	flag.BoolVar(&config.Quiet, "quiet", false, "Do not print the summary")
	flag.Parse()
	return config
}

func main() {
	config := parseFlags()

	s, err := summarise(config.Path)
	if err != nil {
		log.Fatalf("Summary failed: %v", err)
	}
	if !config.Quiet {
		printSummary(os.Stdout, s)
	}

	if config.Output != "" {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode summary: %v", err)
		}
		if err := os.WriteFile(config.Output, data, 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", config.Output, err)
		}
	}
}
