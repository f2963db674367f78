package domain

import (
	"sync"
	"testing"
)

func TestSessionDescriptor_Lifecycle(t *testing.T) {
	d := NewLocalDescriptor("ses_a", "server-a", "10.0.0.1")
	if d.Authenticated() {
		t.Fatal("new descriptor should be anonymous")
	}

	d.SetIdentity(42, "alice", "")
	if d.ClienteID() != 42 || d.Username() != "alice" {
		t.Errorf("identity = %d/%q", d.ClienteID(), d.Username())
	}
	if d.IP() != "10.0.0.1" {
		t.Errorf("empty ip should keep existing address, got %q", d.IP())
	}

	if !d.JoinChannel(7) || d.JoinChannel(7) {
		t.Error("JoinChannel should report change only once")
	}
	d.JoinChannel(3)
	if got := d.Channels(); len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Errorf("Channels() = %v, want [3 7]", got)
	}
	if !d.LeaveChannel(3) || d.LeaveChannel(3) {
		t.Error("LeaveChannel should report change only once")
	}

	d.ClearIdentity()
	if d.Authenticated() || len(d.Channels()) != 0 {
		t.Error("ClearIdentity should reset user and channels")
	}
}

func TestSessionDescriptor_ChannelsIsCopy(t *testing.T) {
	d := NewLocalDescriptor("ses_a", "server-a", "")
	d.JoinChannel(1)
	view := d.Channels()
	view[0] = 99
	if !d.InChannel(1) || d.InChannel(99) {
		t.Error("mutating the returned slice must not affect the descriptor")
	}
}

func TestSessionDescriptor_SnapshotRoundTrip(t *testing.T) {
	d := NewLocalDescriptor("ses_a", "server-a", "1.2.3.4")
	d.SetIdentity(5, "bob", "")
	d.JoinChannel(9)

	rs := d.Snapshot()
	remote := NewRemoteDescriptor(rs)
	if remote.Local {
		t.Error("descriptor built from a snapshot must not be local")
	}
	if !remote.Snapshot().Equal(rs) {
		t.Errorf("snapshot mismatch: %+v vs %+v", remote.Snapshot(), rs)
	}
	if rs.CompositeID() != "server-a:ses_a" {
		t.Errorf("CompositeID() = %q", rs.CompositeID())
	}
}

func TestRemoteSession_EqualIgnoresChannelOrder(t *testing.T) {
	a := RemoteSession{SessionID: "s", ServerID: "x", ClienteID: 1, Channels: []int64{3, 1, 2}}
	b := RemoteSession{SessionID: "s", ServerID: "x", ClienteID: 1, Channels: []int64{1, 2, 3, 3}}
	if !a.Equal(b) {
		t.Error("channel order and duplicates should not matter")
	}
	b.ClienteID = 2
	if a.Equal(b) {
		t.Error("different clienteId should not be equal")
	}
}

func TestSessionDescriptor_ConcurrentAccess(t *testing.T) {
	d := NewLocalDescriptor("ses_a", "server-a", "")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d.JoinChannel(int64(j % 10))
				d.Channels()
				d.SetIdentity(int64(i+1), "u", "")
				d.LeaveChannel(int64(j % 5))
			}
		}(i)
	}
	wg.Wait()
}
