package types

// EncodingDim is the length of the face encodings produced by the dlib/face_recognition models.
const EncodingDim = 128

// BoundingBox is a face location as (top, right, bottom, left), the order used by face_recognition.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

// KnownFace is one gallery identity. It is never mutated after the gallery is loaded.
type KnownFace struct {
	Name     string    `json:"name"`
	Encoding []float64 `json:"encoding"`
}

// DetectedFace is a face found in a (down-scaled) frame by the encoding provider.
type DetectedFace struct {
	Box      BoundingBox `json:"box"`
	Encoding []float64   `json:"encoding"`
}

// MatchResult is the outcome of comparing one detected face against the gallery.
type MatchResult struct {
	Face     DetectedFace `json:"face"`
	Identity string       `json:"identity,omitempty"`
	Matched  bool         `json:"matched"`
	Distance float64      `json:"distance"`
}

// Detection is what the overlay draws for a face: its box and the label to print.
type Detection struct {
	Box     BoundingBox `json:"box"`
	Label   string      `json:"label"`
	Matched bool        `json:"matched"`
}

// AttendanceRecord is one logged sighting of an identity on a calendar day.
// Date is YYYY-MM-DD and Time is HH:MM:SS, both in local time.
type AttendanceRecord struct {
	Name string `json:"name"`
	Date string `json:"date"`
	Time string `json:"time"`
}
