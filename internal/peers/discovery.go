package peers

import (
	"context"
	"encoding/json"
	"net"
	"time"
)

// DiscoveryPort is the UDP port presence beacons are broadcast and
// listened for on (§4.6).
const DiscoveryPort = 5001

// BeaconInterval is how often a node broadcasts its own presence.
const BeaconInterval = 30 * time.Second

type presenceMessage struct {
	Type string `json:"type"`
	IP   string `json:"ip"`
}

// Beacon broadcasts and listens for UDP presence beacons on one port.
type Beacon struct {
	set  *Set
	port int
}

// NewBeacon returns a Beacon that records sightings into set.
func NewBeacon(set *Set, port int) *Beacon {
	if port == 0 {
		port = DiscoveryPort
	}
	return &Beacon{set: set, port: port}
}

// Run starts listening for presence beacons and broadcasting this node's
// own presence every BeaconInterval, until ctx is cancelled.
func (b *Beacon) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: b.port})
	if err != nil {
		return err
	}
	defer conn.Close()

	go b.listen(ctx, conn)
	b.broadcastLoop(ctx)
	return nil
}

func (b *Beacon) listen(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		var msg presenceMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil || msg.Type != "presence" {
			continue
		}
		ip := msg.IP
		if ip == "" {
			ip = addr.IP.String()
		}
		b.set.Touch(ip, time.Now().Unix())
	}
}

func (b *Beacon) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(BeaconInterval)
	defer ticker.Stop()

	b.broadcastOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.broadcastOnce()
		}
	}
}

func (b *Beacon) broadcastOnce() {
	ip := localOutboundIP()
	if ip == "" {
		return
	}
	payload, err := json.Marshal(presenceMessage{Type: "presence", IP: ip})
	if err != nil {
		return
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4bcast, Port: b.port})
	if err != nil {
		return
	}
	defer conn.Close()
	conn.Write(payload)
}

// localOutboundIP reports the local address that would be used to reach
// the public internet, without sending any traffic: connecting a UDP
// socket only resolves a route.
func localOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
