// Package hdf parses and mutates Hardware Description Fragments: an
// XML dialect (root <hcdf>) describing a device's ports, antennas,
// sensors, visuals, and frames, extended with <mcu> entries the daemon
// maintains for each discovered device.
package hdf

import "encoding/xml"

// Document is the root <hcdf> element.
type Document struct {
	XMLName xml.Name `xml:"hcdf"`
	Version string   `xml:"version,attr"`
	Comp    []Comp   `xml:"comp"`
	Mcu     []Mcu    `xml:"mcu"`
	Link    []Link   `xml:"link"`
}

// ModelRef references a 3D model file, optionally pinned to a content
// hash for cache validation.
type ModelRef struct {
	Href string `xml:"href,attr"`
	Sha  string `xml:"sha,attr,omitempty"`
}

// Visual is a named 3D model with a pose offset, optionally grouped
// into a visibility toggle.
type Visual struct {
	Name   string    `xml:"name,attr"`
	Toggle string    `xml:"toggle,attr,omitempty"`
	Pose   string    `xml:"pose,omitempty"`
	Model  *ModelRef `xml:"model,omitempty"`
}

// Frame is a named coordinate frame with an optional pose offset.
type Frame struct {
	Name        string `xml:"name,attr"`
	Description string `xml:"description,omitempty"`
	Pose        string `xml:"pose,omitempty"`
}

// AxisAlign gives the induced rotation for a sensor/port's local frame
// as three signed axis labels drawn from {X,-X,Y,-Y,Z,-Z}.
type AxisAlign struct {
	X string `xml:"x,attr"`
	Y string `xml:"y,attr"`
	Z string `xml:"z,attr"`
}

// Geometry is a fallback primitive shape used when no mesh reference
// is available.
type Geometry struct {
	Box      *BoxGeometry      `xml:"box,omitempty"`
	Cylinder *CylinderGeometry `xml:"cylinder,omitempty"`
	Sphere   *SphereGeometry   `xml:"sphere,omitempty"`
}

type BoxGeometry struct {
	Size string `xml:"size"`
}

type CylinderGeometry struct {
	Radius float64 `xml:"radius"`
	Length float64 `xml:"length"`
}

type SphereGeometry struct {
	Radius float64 `xml:"radius"`
}

// FallbackVisual supplies inline pose/geometry for a port or antenna
// when no visual mesh reference is available.
type FallbackVisual struct {
	Pose     string    `xml:"pose,omitempty"`
	Geometry *Geometry `xml:"geometry,omitempty"`
}

// Quantity is a numeric capability value carrying an optional unit and
// min/max bounds (voltage, current, power, capacity, speed, bitrate,
// baud).
type Quantity struct {
	Unit  string   `xml:"unit,attr,omitempty"`
	Min   *float64 `xml:"min,attr,omitempty"`
	Max   *float64 `xml:"max,attr,omitempty"`
	Value float64  `xml:",chardata"`
}

// Capabilities groups a port or antenna's data and power properties.
type Capabilities struct {
	Speed      *Quantity `xml:"speed,omitempty"`
	Bitrate    *Quantity `xml:"bitrate,omitempty"`
	Baud       *Quantity `xml:"baud,omitempty"`
	Standard   []string  `xml:"standard,omitempty"`
	Protocol   []string  `xml:"protocol,omitempty"`
	Band       []string  `xml:"band,omitempty"`
	Gain       *Quantity `xml:"gain,omitempty"`
	Polarization string  `xml:"polarization,omitempty"`
	Voltage    *Quantity `xml:"voltage,omitempty"`
	Current    *Quantity `xml:"current,omitempty"`
	Power      *Quantity `xml:"power,omitempty"`
	Capacity   *Quantity `xml:"capacity,omitempty"`
	Connector  string    `xml:"connector,omitempty"`
}

// Port is a wired connection interface on a component.
type Port struct {
	Name           string          `xml:"name,attr"`
	Type           string          `xml:"type,attr"`
	Visual         string          `xml:"visual,attr,omitempty"`
	Mesh           string          `xml:"mesh,attr,omitempty"`
	Capabilities   *Capabilities   `xml:"capabilities,omitempty"`
	FallbackVisual *FallbackVisual `xml:"fallback_visual,omitempty"`
	Geometry       []Geometry      `xml:"geometry,omitempty"`
}

// ParsePose reads the pose from the port's fallback visual. A port has
// no pose element of its own, so without a fallback visual pose it
// reports false.
func (p Port) ParsePose() (Pose, bool) {
	if p.FallbackVisual != nil && p.FallbackVisual.Pose != "" {
		return ParsePoseString(p.FallbackVisual.Pose)
	}
	return Pose{}, false
}

// GetGeometry prefers the fallback visual's geometry, falling back to
// the first of the port's own geometry elements.
func (p Port) GetGeometry() (Geometry, bool) {
	if p.FallbackVisual != nil && p.FallbackVisual.Geometry != nil {
		return *p.FallbackVisual.Geometry, true
	}
	if len(p.Geometry) > 0 {
		return p.Geometry[0], true
	}
	return Geometry{}, false
}

// Antenna is a wireless connection interface; it mirrors Port with
// band/standard/protocol/polarization capabilities.
type Antenna struct {
	Name           string          `xml:"name,attr"`
	Type           string          `xml:"type,attr"`
	Visual         string          `xml:"visual,attr,omitempty"`
	Mesh           string          `xml:"mesh,attr,omitempty"`
	Capabilities   *Capabilities   `xml:"capabilities,omitempty"`
	FallbackVisual *FallbackVisual `xml:"fallback_visual,omitempty"`
}

// FOV is a named field-of-view shape for an optical sensor.
type FOV struct {
	Name     string    `xml:"name,attr"`
	Color    string    `xml:"color,attr,omitempty"`
	Pose     string    `xml:"pose,omitempty"`
	Geometry *Geometry `xml:"geometry,omitempty"`
}

// Sensor is a named measurement device belonging to one of the
// recognized modalities.
type Sensor struct {
	Name      string     `xml:"name,attr"`
	Inertial  *struct{}  `xml:"inertial,omitempty"`
	EM        *struct{}  `xml:"em,omitempty"`
	Optical   *struct{}  `xml:"optical,omitempty"`
	RF        *struct{}  `xml:"rf,omitempty"`
	Chemical  *struct{}  `xml:"chemical,omitempty"`
	Force     *struct{}  `xml:"force,omitempty"`
	AxisAlign *AxisAlign `xml:"axis-align,omitempty"`
	FOV       []FOV      `xml:"fov,omitempty"`
}

// Software describes the currently running firmware image.
type Software struct {
	Name                string `xml:"name,attr"`
	Version             string `xml:"version,omitempty"`
	FirmwareManifestURI string `xml:"firmware_manifest_uri,omitempty"`
	Hash                string `xml:"hash,omitempty"`
}

// Discovered is the network-discovery state mirrored into HDF.
type Discovered struct {
	IP       string `xml:"ip"`
	Port     uint16 `xml:"port,omitempty"`
	LastSeen string `xml:"last_seen,omitempty"`
}

// Comp is a non-MCU hardware component (fixed/companion hardware with
// no discovery lifecycle).
type Comp struct {
	Name        string     `xml:"name,attr"`
	Role        string     `xml:"role,attr,omitempty"`
	HWID        string     `xml:"hwid,attr,omitempty"`
	Description string     `xml:"description,omitempty"`
	PoseCG      string     `xml:"pose_cg,omitempty"`
	Board       string     `xml:"board,omitempty"`
	Software    *Software  `xml:"software,omitempty"`
	Discovered  *Discovered `xml:"discovered,omitempty"`
	Visual      []Visual   `xml:"visual,omitempty"`
	Frame       []Frame    `xml:"frame,omitempty"`
	Port        []Port     `xml:"port,omitempty"`
	Antenna     []Antenna  `xml:"antenna,omitempty"`
	Sensor      []Sensor   `xml:"sensor,omitempty"`
}

// Mcu is a discovered microcontroller component, keyed by hwid.
type Mcu struct {
	Name        string      `xml:"name,attr"`
	HWID        string      `xml:"hwid,attr,omitempty"`
	Description string      `xml:"description,omitempty"`
	PoseCG      string      `xml:"pose_cg,omitempty"`
	Board       string      `xml:"board,omitempty"`
	Software    *Software   `xml:"software,omitempty"`
	Discovered  *Discovered `xml:"discovered,omitempty"`
	Visual      []Visual    `xml:"visual,omitempty"`
	Frame       []Frame     `xml:"frame,omitempty"`
	Port        []Port      `xml:"port,omitempty"`
	Antenna     []Antenna   `xml:"antenna,omitempty"`
	Sensor      []Sensor    `xml:"sensor,omitempty"`
}

// Link joins two ports or antennas across components, e.g. a switch
// port to a downstream device's eth0.
type Link struct {
	Name string `xml:"name,attr"`
	From string `xml:"from,attr,omitempty"`
	To   string `xml:"to,attr,omitempty"`
}
