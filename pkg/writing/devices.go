package writing

import (
	"log"
	"sort"
	"sync"
)

// ControllerFactory builds the controller of a device the first time it shows up.
type ControllerFactory func(deviceID int64) (*Controller, error)

// Devices keeps one Controller per device (chat).
type Devices struct {
	controllers map[int64]*Controller
	factory     ControllerFactory
	mu          sync.Mutex
}

func NewDevices(factory ControllerFactory) *Devices {
	return &Devices{
		controllers: make(map[int64]*Controller),
		factory:     factory,
	}
}

func (d *Devices) GetOrCreate(deviceID int64) (*Controller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ctrl, ok := d.controllers[deviceID]; ok {
		return ctrl, nil
	}

	ctrl, err := d.factory(deviceID)
	if err != nil {
		log.Printf("CRITICAL: Failed to create controller for device %d: %v", deviceID, err)
		return nil, err
	}
	d.controllers[deviceID] = ctrl
	log.Printf("Controller created for device %d", deviceID)
	return ctrl, nil
}

// ForEach visits controllers in device order, outside the registry lock.
func (d *Devices) ForEach(fn func(deviceID int64, ctrl *Controller)) {
	d.mu.Lock()
	ids := make([]int64, 0, len(d.controllers))
	for id := range d.controllers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ctrls := make([]*Controller, len(ids))
	for i, id := range ids {
		ctrls[i] = d.controllers[id]
	}
	d.mu.Unlock()

	for i, id := range ids {
		fn(id, ctrls[i])
	}
}

// TickAll polls every device timer.
func (d *Devices) TickAll() {
	d.ForEach(func(_ int64, ctrl *Controller) { ctrl.Tick() })
}

// Shutdown cancels pending timers and waits for in-flight submissions.
func (d *Devices) Shutdown() {
	d.ForEach(func(_ int64, ctrl *Controller) {
		ctrl.Close()
		ctrl.Wait()
	})
}
