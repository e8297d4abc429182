package hdf

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Pose is a 6-DOF offset: translation in meters, rotation in radians,
// stored in x y z roll pitch yaw order.
type Pose struct {
	X, Y, Z             float64
	Roll, Pitch, Yaw    float64
}

// ToArray returns the pose as [x y z roll pitch yaw].
func (p Pose) ToArray() [6]float64 {
	return [6]float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw}
}

// String renders the pose in the whitespace-separated HDF wire form.
func (p Pose) String() string {
	a := p.ToArray()
	parts := make([]string, 6)
	for i, v := range a {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

// ParsePoseString parses a whitespace-separated "x y z roll pitch yaw"
// pose string. All six fields are required.
func ParsePoseString(s string) (Pose, bool) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return Pose{}, false
	}
	var vals [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Pose{}, false
		}
		vals[i] = v
	}
	return Pose{
		X: vals[0], Y: vals[1], Z: vals[2],
		Roll: vals[3], Pitch: vals[4], Yaw: vals[5],
	}, true
}

// ParsePose parses the visual's own pose string, if set.
func (v Visual) ParsePose() (Pose, bool) {
	if v.Pose == "" {
		return Pose{}, false
	}
	return ParsePoseString(v.Pose)
}

// ParsePose parses the frame's own pose string, if set.
func (f Frame) ParsePose() (Pose, bool) {
	if f.Pose == "" {
		return Pose{}, false
	}
	return ParsePoseString(f.Pose)
}

// unitVectors maps the six signed axis labels to their unit vector.
var unitVectors = map[string][3]float64{
	"X":  {1, 0, 0},
	"-X": {-1, 0, 0},
	"Y":  {0, 1, 0},
	"-Y": {0, -1, 0},
	"Z":  {0, 0, 1},
	"-Z": {0, 0, -1},
}

// RotationMatrix returns the 3x3 rotation matrix induced by the
// axis-align element: row i is the unit vector named by the i'th
// axis label (x, y, z in that order). Returns an error if any label
// is not one of X, -X, Y, -Y, Z, -Z.
func (a AxisAlign) RotationMatrix() ([3][3]float64, error) {
	labels := [3]string{a.X, a.Y, a.Z}
	var m [3][3]float64
	for i, label := range labels {
		v, ok := unitVectors[strings.ToUpper(label)]
		if !ok {
			return m, fmt.Errorf("hdf: axis-align label %q not in {X,-X,Y,-Y,Z,-Z}", label)
		}
		m[i] = v
	}
	return m, nil
}

// ParseDocument parses an HDF document from XML content. Sibling
// elements of <mcu>/<comp> may appear in any order and interleaved;
// encoding/xml matches by tag name regardless of position, so no
// special handling is needed beyond the field tags in model.go.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("hdf: parse document: %w", err)
	}
	if doc.Version == "" {
		return nil, fmt.Errorf("hdf: document missing version attribute")
	}
	return &doc, nil
}

// Marshal serializes the document back to XML with a standard header
// and indentation, matching the on-disk convention.
func (d *Document) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("hdf: marshal document: %w", err)
	}
	out := append([]byte(xml.Header), body...)
	return out, nil
}
