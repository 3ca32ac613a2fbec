package capture

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/slip.capture/internal/fsutil"
	"github.com/banshee-data/slip.capture/internal/security"
)

// PcapMode selects how PcapSink lays captures out on disk.
type PcapMode int

const (
	// PcapPerPacket writes one pkt_<time>_<seq>.pcap file per packet.
	PcapPerPacket PcapMode = iota
	// PcapSingleFile writes one capture_<session>.pcap file per session.
	PcapSingleFile
)

// DefaultLinkType is Ethernet, the link type text2pcap assumes by default.
const DefaultLinkType = layers.LinkTypeEthernet

// pcapSnapLen covers any packet the decoder can emit.
const pcapSnapLen = 65535

// PcapSink writes decoded packets as pcap captures.
type PcapSink struct {
	fs       fsutil.FileSystem
	dir      string
	mode     PcapMode
	linkType layers.LinkType

	// single file state
	session string
	file    io.WriteCloser
	writer  *pcapgo.Writer

	files int
}

// NewPcapSink creates dir if needed.
func NewPcapSink(fsys fsutil.FileSystem, dir string, mode PcapMode, linkType layers.LinkType) (*PcapSink, error) {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create packet dir: %w", err)
	}
	return &PcapSink{fs: fsys, dir: dir, mode: mode, linkType: linkType}, nil
}

// Name implements Named.
func (s *PcapSink) Name() string { return "pcap" }

// FilesCreated returns how many pcap files the sink has opened.
func (s *PcapSink) FilesCreated() int { return s.files }

// WritePacket writes r as one pcap record.
func (s *PcapSink) WritePacket(r Record) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     r.Time,
		CaptureLength: len(r.Data),
		Length:        len(r.Data),
	}

	if s.mode == PcapPerPacket {
		name := fmt.Sprintf("pkt_%s_%06d.pcap", stamp(r.Time), r.Seq)
		f, w, err := s.open(name)
		if err != nil {
			return err
		}
		if err := w.WritePacket(ci, r.Data); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		return f.Close()
	}

	if s.file == nil || s.session != r.Session {
		if err := s.closeFile(); err != nil {
			return err
		}
		name := fmt.Sprintf("capture_%s.pcap", security.SanitizeFilename(r.Session))
		f, w, err := s.open(name)
		if err != nil {
			return err
		}
		s.session, s.file, s.writer = r.Session, f, w
	}
	return s.writer.WritePacket(ci, r.Data)
}

func (s *PcapSink) open(name string) (io.WriteCloser, *pcapgo.Writer, error) {
	f, err := s.fs.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(pcapSnapLen, s.linkType); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	s.files++
	return f, w, nil
}

func (s *PcapSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.writer, s.session = nil, nil, ""
	return err
}

// Close closes the open single-file capture, if any.
func (s *PcapSink) Close() error {
	return s.closeFile()
}
