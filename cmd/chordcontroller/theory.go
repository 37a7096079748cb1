package main

// ============================================================================
// Music theory
// ============================================================================

// ChordQuality is the triad type of a chord.
type ChordQuality int

const (
	QualityMajor ChordQuality = iota
	QualityMinor
	QualityDiminished
)

func (q ChordQuality) String() string {
	switch q {
	case QualityMinor:
		return "minor"
	case QualityDiminished:
		return "diminished"
	default:
		return "major"
	}
}

// Intervals above the root, in semitones.
const (
	intervalDiminishedSeventh = 9
	intervalMinorSeventh      = 10
	intervalMajorNinth        = 14
)

// Bass voice modes.
const (
	BassNone      = 0
	BassRoot      = 1 // extra voice an octave below the root
	BassInversion = 2 // extra voice an octave below the lowest chord tone
)

// ScalePosition describes a diatonic degree of the major scale.
type ScalePosition struct {
	RootPitch int
	Quality   ChordQuality
}

var scalePositions = [...]ScalePosition{
	{0, QualityMajor},
	{2, QualityMinor},
	{4, QualityMinor},
	{5, QualityMajor},
	{7, QualityMajor},
	{9, QualityMinor},
	{11, QualityDiminished},
}

// BuildChord returns the pitches of a chord on root. A non-zero voicing
// rotates chord tones upward by that many steps, carrying octaves.
func BuildChord(root int, quality ChordQuality, extensions []int, voicing int) []int {
	var chord []int
	switch quality {
	case QualityMinor:
		chord = []int{root, root + 3, root + 7}
	case QualityDiminished:
		chord = []int{root, root + 3, root + 6}
	default:
		chord = []int{root, root + 4, root + 7}
	}
	for _, x := range extensions {
		chord = append(chord, root+x)
	}

	if voicing == 0 {
		return chord
	}

	n := len(chord)
	inverted := make([]int, n)
	for i := range chord {
		k := i + voicing
		inverted[i] = chord[floorMod(k, n)] + floorDiv(k, n)*12
	}
	return inverted
}

// ChordModifiers are the instrument attributes that shape a chord.
type ChordModifiers struct {
	Tonic             int
	TonicOffset       int
	Octave            int
	QualityModifier   int
	ExtensionModifier int
	Voicing           int
	Bass              int
}

// ConstructChord builds the chord for a scale position under mods.
func ConstructChord(position int, mods ChordModifiers) []int {
	spd := scalePositions[position]
	root := mods.Tonic + mods.Octave*12 + spd.RootPitch + mods.TonicOffset

	quality := spd.Quality
	switch mods.QualityModifier {
	case 1:
		// Major and minor swap; the diminished triad becomes major.
		if spd.Quality == QualityMajor {
			quality = QualityMinor
		} else {
			quality = QualityMajor
		}
	case 2:
		if spd.Quality != QualityDiminished {
			quality = QualityDiminished
		} else {
			quality = QualityMinor
		}
	}

	var extensions []int
	switch mods.ExtensionModifier {
	case 1:
		extensions = []int{intervalMinorSeventh}
	case 2:
		if quality == QualityDiminished {
			extensions = []int{intervalDiminishedSeventh}
		} else {
			extensions = []int{intervalMinorSeventh, intervalMajorNinth}
		}
	}

	chord := BuildChord(root, quality, extensions, mods.Voicing)
	switch mods.Bass {
	case BassRoot:
		chord = append(chord, root-12)
	case BassInversion:
		chord = append(chord, chord[0]-12)
	}
	return chord
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
