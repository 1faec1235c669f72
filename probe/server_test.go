package probe

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbbouncer/mysqlcore"
	"github.com/dbbouncer/mysqlcore/connpool"
	"github.com/dbbouncer/mysqlcore/dsnopts"
	"github.com/dbbouncer/mysqlcore/protocol"
	"github.com/dbbouncer/mysqlcore/wire"
)

// fakeServer mirrors the handshake-plus-OK fake MySQL server used by the
// other packages' tests.
type fakeServer struct {
	ln     net.Listener
	nextID uint32
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fs := &fakeServer{ln: ln, nextID: 9}
	go fs.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func (fs *fakeServer) addr() string { return fs.ln.Addr().String() }

func (fs *fakeServer) acceptLoop() {
	for {
		conn, err := fs.ln.Accept()
		if err != nil {
			return
		}
		connID := atomic.AddUint32(&fs.nextID, 1)
		go fs.serve(conn, connID)
	}
}

func (fs *fakeServer) serve(conn net.Conn, connID uint32) {
	defer conn.Close()
	w := wire.NewWriter(conn, nil)
	r := wire.NewReader(conn, nil)

	seed := []byte("0123456789abcdefghij")
	b := wire.NewPacketBuilder(64)
	b.PutByte(10)
	b.PutNullTerminatedString("8.0.34-test")
	b.PutUint32(connID)
	b.PutBytes(seed[:8])
	b.PutByte(0)
	b.PutUint16(uint16(protocol.Required & 0xffff))
	b.PutByte(45)
	b.PutUint16(uint16(protocol.StatusAutocommit))
	b.PutUint16(uint16((protocol.Required >> 16) & 0xffff))
	b.PutByte(21)
	b.PutBytes(make([]byte, 10))
	b.PutBytes(seed[8:])
	b.PutByte(0)
	b.PutNullTerminatedString("mysql_native_password")
	if err := w.WritePacket(wire.NewPacket(0, b.Bytes())); err != nil {
		return
	}

	pkt, err := r.ReadPacket()
	if err != nil {
		return
	}
	writeOK(w, wire.NextSequence(pkt.Sequence))

	for {
		cpkt, err := r.ReadPacket()
		if err != nil {
			return
		}
		writeOK(w, wire.NextSequence(cpkt.Sequence))
	}
}

func writeOK(w *wire.Writer, seq byte) {
	b := wire.NewPacketBuilder(8)
	b.PutByte(0x00)
	b.PutLengthEncodedInt(0)
	b.PutLengthEncodedInt(0)
	b.PutUint16(uint16(protocol.StatusAutocommit))
	b.PutUint16(0)
	w.WritePacket(wire.NewPacket(seq, b.Bytes()))
}

func newTestServer(t *testing.T) (*Server, *mysqlcore.Pool, *mux.Router) {
	t.Helper()
	fs := startFakeServer(t)

	opts, err := dsnopts.Parse("jdbc:mysql://" + fs.addr() + "/testdb")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	opts.Username = "appuser"
	opts.Password = "s3cret"

	pool, err := mysqlcore.Open(opts, connpool.Config{
		Size:               1,
		AcquireTimeout:     time.Second,
		MaxOccupancy:       time.Minute,
		QueryTimeout:       time.Second,
		SlowQueryThreshold: time.Minute,
	}, connpool.WithKillAuthCredential("operator-secret"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	s := NewServer(pool, prometheus.NewRegistry(), nil)

	mr := mux.NewRouter()
	mr.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	mr.HandleFunc("/pool", s.poolHandler).Methods("GET")
	mr.HandleFunc("/kill/{connID}", s.killHandler).Methods("POST")

	return s, pool, mr
}

func TestHealthzHandler(t *testing.T) {
	_, _, mr := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestPoolHandler(t *testing.T) {
	_, pool, mr := newTestServer(t)

	lease, err := pool.Acquire(t.Context())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release()

	req := httptest.NewRequest("GET", "/pool", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var stats connpool.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Leased != 1 {
		t.Errorf("Leased = %d, want 1", stats.Leased)
	}
}

func TestKillHandlerRequiresCredential(t *testing.T) {
	_, _, mr := newTestServer(t)

	req := httptest.NewRequest("POST", "/kill/42", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a credential", rr.Code)
	}
}

func TestKillHandlerWithCredential(t *testing.T) {
	_, _, mr := newTestServer(t)

	req := httptest.NewRequest("POST", "/kill/42", nil)
	req.Header.Set("X-Kill-Credential", "operator-secret")
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with a valid credential, body=%s", rr.Code, rr.Body.String())
	}
}
