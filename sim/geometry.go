package sim

// Detector is one target entity a per-target module can bind to.
type Detector struct {
	Name string
	Type string
}

// Geometry supplies the authoritative set of targets.
type Geometry interface {
	Detectors() []Detector
}

// DetectorList is an in-memory Geometry preserving declaration order.
type DetectorList []Detector

// Detectors implements Geometry.
func (l DetectorList) Detectors() []Detector {
	return l
}

// findDetector returns the detector with the given name.
func findDetector(g Geometry, name string) (Detector, bool) {
	for _, d := range g.Detectors() {
		if d.Name == name {
			return d, true
		}
	}
	return Detector{}, false
}
