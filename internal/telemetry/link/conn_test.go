package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	telemetry "proximity-guard/internal/telemetry/domain"
)

// vehicleEnd drives the far side of a wire connection in tests.
type vehicleEnd struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newLinkPair(t *testing.T) (*wireConn, *vehicleEnd) {
	t.Helper()
	ours, theirs := net.Pipe()
	conn := newWireConn(ours)
	t.Cleanup(func() { _ = conn.Close() })
	t.Cleanup(func() { _ = theirs.Close() })
	return conn, &vehicleEnd{conn: theirs, scanner: bufio.NewScanner(theirs)}
}

func (v *vehicleEnd) send(t *testing.T, msg wireMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	payload = append(payload, '\n')
	if _, err := v.conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (v *vehicleEnd) receive(t *testing.T) wireMessage {
	t.Helper()
	if !v.scanner.Scan() {
		t.Fatalf("scan: %v", v.scanner.Err())
	}
	var msg wireMessage
	if err := json.Unmarshal(v.scanner.Bytes(), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestWireConn_ReadSample(t *testing.T) {
	conn, vehicle := newLinkPair(t)

	go vehicle.send(t, wireMessage{
		Type:      "position",
		VehicleID: "veh-1",
		Lat:       47.1,
		Lon:       8.2,
		Alt:       120,
		TS:        time.Now().UTC().Format(time.RFC3339Nano),
		Seq:       7,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sample, err := conn.ReadSample(ctx)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if sample.VehicleID != "veh-1" || sample.Seq != 7 {
		t.Fatalf("unexpected sample: %+v", sample)
	}
	if sample.Position.LatitudeDeg != 47.1 {
		t.Fatalf("latitude = %v", sample.Position.LatitudeDeg)
	}
}

func TestWireConn_ReadSampleTimeout(t *testing.T) {
	conn, _ := newLinkPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := conn.ReadSample(ctx)
	if !errors.Is(err, telemetry.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWireConn_SetModeAcknowledged(t *testing.T) {
	conn, vehicle := newLinkPair(t)

	go func() {
		req := vehicle.receive(t)
		if req.Type != "set_mode" || req.Mode != 5 {
			t.Errorf("unexpected request: %+v", req)
		}
		vehicle.send(t, wireMessage{Type: "mode_ack", Mode: 5, OK: true})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.SetMode(ctx, 5); err != nil {
		t.Fatalf("set mode: %v", err)
	}
}

func TestWireConn_SetModeRejected(t *testing.T) {
	conn, vehicle := newLinkPair(t)

	go func() {
		vehicle.receive(t)
		vehicle.send(t, wireMessage{Type: "mode_ack", Mode: 5, OK: false, Error: "armed"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := conn.SetMode(ctx, 5)
	if !errors.Is(err, ErrModeRejected) {
		t.Fatalf("expected ErrModeRejected, got %v", err)
	}
}

func TestWireConn_ToleratesGarbageLines(t *testing.T) {
	conn, vehicle := newLinkPair(t)

	go func() {
		if _, err := vehicle.conn.Write([]byte("not json\n")); err != nil {
			t.Errorf("write garbage: %v", err)
			return
		}
		vehicle.send(t, wireMessage{
			Type:      "position",
			VehicleID: "veh-1",
			Lat:       1,
			Lon:       2,
			Alt:       3,
			TS:        time.Now().UTC().Format(time.RFC3339Nano),
			Seq:       1,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sample, err := conn.ReadSample(ctx)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if sample.VehicleID != "veh-1" {
		t.Fatalf("unexpected sample: %+v", sample)
	}
}

func TestSimConn(t *testing.T) {
	d, err := ParseDescriptor("sim:47.1,8.2,120;id=veh-a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	conn, err := Dial(context.Background(), d)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first, err := conn.ReadSample(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := conn.ReadSample(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.VehicleID != "veh-a" || second.Seq != first.Seq+1 {
		t.Fatalf("unexpected samples: %+v %+v", first, second)
	}

	if err := conn.SetMode(context.Background(), 5); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	sim, ok := conn.(*simConn)
	if !ok {
		t.Fatal("sim descriptor should dial a sim connection")
	}
	if sim.Mode() != 5 {
		t.Fatalf("mode = %d, want 5", sim.Mode())
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := conn.ReadSample(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close = %v, want ErrClosed", err)
	}
}
