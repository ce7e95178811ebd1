// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager setup, TXT records and entry parsing
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/open-ephys-plugins/falcon-output/internal/version"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "probe-a", Port: 3335})
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.config.BrowseTimeout == 0 {
		t.Error("expected browse timeout default")
	}
	if mgr.Producers() == nil {
		t.Error("producers channel should not be nil")
	}
	mgr.Stop()

	select {
	case <-mgr.ctx.Done():
	default:
		t.Error("expected context to be cancelled after Stop")
	}
}

func TestTXT(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "probe-a", Port: 3335, Path: "/falcon", Transport: "ws"})
	defer mgr.Stop()

	txt := mgr.TXT()
	if len(txt) != 4 || txt[0] != "path=/falcon" || txt[1] != "transport=ws" {
		t.Errorf("unexpected TXT records: %v", txt)
	}
	if len(txt) == 4 && txt[3] != "version="+version.Version {
		t.Errorf("expected version record, got %s", txt[3])
	}

	empty := NewManager(Config{ServiceName: "probe-b", Port: 3336})
	defer empty.Stop()
	if len(empty.TXT()) != 2 {
		t.Errorf("expected only identity records, got %v", empty.TXT())
	}
}

func TestProducerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "probe-a._falcon._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       3335,
		InfoFields: []string{"path=/falcon", "transport=ws", "version=0.3.0", "junk"},
	}

	info := producerFromEntry(entry)
	if info == nil {
		t.Fatal("expected producer info")
	}
	if info.Name != "probe-a" {
		t.Errorf("expected name probe-a, got %s", info.Name)
	}
	if info.Host != "192.168.1.20" || info.Port != 3335 {
		t.Errorf("unexpected endpoint %s:%d", info.Host, info.Port)
	}
	if info.Path != "/falcon" || info.Transport != "ws" || info.Version != "0.3.0" {
		t.Errorf("unexpected TXT fields: %+v", info)
	}

	if producerFromEntry(&mdns.ServiceEntry{Name: "no-address"}) != nil {
		t.Error("expected entries without an IPv4 address to be ignored")
	}
}
