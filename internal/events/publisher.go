// Package events publishes lifecycle events to NATS for operational
// consumers. Publishing is best-effort; the control plane never blocks or
// fails on the event path.
package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tsanders-rh/gpuctl/pkg/types"
)

const (
	SubjectVMLaunched      = "gpuctl.vm.launched"
	SubjectVMTerminated    = "gpuctl.vm.terminated"
	SubjectFilesystemReady = "gpuctl.fs.ready"
)

// Publisher emits JSON events. A nil Publisher is valid and publishes
// nothing, which is how deployments without NATS run.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to NATS; an empty URL disables publishing
func NewPublisher(url string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	opts := []nats.Option{
		nats.Name("gpuctl"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc}, nil
}

// Close drains and closes the connection
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}

func (p *Publisher) publish(subject string, payload interface{}) {
	if p == nil || p.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode event %s: %v", subject, err)
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Printf("publish event %s: %v", subject, err)
	}
}

// VMLaunched reports a new VM record
func (p *Publisher) VMLaunched(vm *types.VM) {
	p.publish(SubjectVMLaunched, vm)
}

// VMTerminated reports a VM reaching its terminal state
func (p *Publisher) VMTerminated(vm *types.VM) {
	p.publish(SubjectVMTerminated, vm)
}

// FilesystemReady reports a shared filesystem finishing its seed
func (p *Publisher) FilesystemReady(name, region string) {
	p.publish(SubjectFilesystemReady, map[string]string{
		"filesystemName": name,
		"region":         region,
	})
}
