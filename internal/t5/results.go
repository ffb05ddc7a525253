package t5

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// InferenceResultsFile is written by inference.py in its working directory,
// one decoded sequence per input sentence.
const InferenceResultsFile = "inference_results.txt"

// Triplet is one (target, aspect category, sentiment) prediction. Pair tasks
// (uabsa, aope) leave Aspect empty.
type Triplet struct {
	Target    string
	Aspect    string
	Sentiment string
}

// LineResult is the parsed form of one decoded output line.
type LineResult struct {
	Line     int
	Raw      string
	Triplets []Triplet
}

/*
Extraction-paradigm outputs are tuple lists:

	(sushi rolls, food quality, positive); (service, service general, negative)

List        := Tuple ( ";" Tuple )*
Tuple       := "(" Field ( "," Field )* ")"
Field       := <text without ( ) , ;>
*/
var extractionParser = participle.MustBuild[extractionList](
	participle.Lexer(lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Punct", Pattern: `[();,]`},
		{Name: "Text", Pattern: `[^();,\s]+`},
		{Name: "whitespace", Pattern: `\s+`},
	})),
)

type extractionList struct {
	Tuples []*extractionTuple `(@@ ( ";" @@ )* ";"?)?`
}

type extractionTuple struct {
	Fields []*tupleField `"(" @@ ( "," @@ )* ")"`
}

type tupleField struct {
	Parts []string `@Text+`
}

func (f *tupleField) text() string {
	return strings.Join(f.Parts, " ")
}

// ParseLine decodes one output line of the harness under the given paradigm.
func ParseLine(paradigm, line string) ([]Triplet, error) {
	switch paradigm {
	case ParadigmExtraction:
		return parseExtractionLine(line)
	case ParadigmAnnotation:
		return parseAnnotationLine(line)
	default:
		return nil, fmt.Errorf("unknown paradigm %q", paradigm)
	}
}

func parseExtractionLine(line string) ([]Triplet, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	list, err := extractionParser.ParseString("", line)
	if err != nil {
		return nil, fmt.Errorf("error parsing extraction output %q: %w", line, err)
	}

	var triplets []Triplet
	for _, tuple := range list.Tuples {
		t, err := tripletFromFields(tuple.Fields)
		if err != nil {
			return nil, fmt.Errorf("error parsing extraction output %q: %w", line, err)
		}
		triplets = append(triplets, t)
	}
	return triplets, nil
}

// Annotation-paradigm outputs embed predictions in the sentence itself:
//
//	The [sushi rolls|food quality|positive] were great but not the [service|service general|negative].
func parseAnnotationLine(line string) ([]Triplet, error) {
	var triplets []Triplet

	rest := line
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(rest[open:], ']')
		if closing < 0 {
			return nil, fmt.Errorf("unterminated annotation span in %q", line)
		}

		span := rest[open+1 : open+closing]
		fields := make([]*tupleField, 0, 3)
		for _, part := range strings.Split(span, "|") {
			fields = append(fields, &tupleField{Parts: strings.Fields(part)})
		}

		t, err := tripletFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("error parsing annotation output %q: %w", line, err)
		}
		triplets = append(triplets, t)

		rest = rest[open+closing+1:]
	}

	return triplets, nil
}

func tripletFromFields(fields []*tupleField) (Triplet, error) {
	switch len(fields) {
	case 2:
		return Triplet{Target: fields[0].text(), Sentiment: fields[1].text()}, nil
	case 3:
		return Triplet{Target: fields[0].text(), Aspect: fields[1].text(), Sentiment: fields[2].text()}, nil
	default:
		return Triplet{}, fmt.Errorf("expected 2 or 3 fields, got %d", len(fields))
	}
}

// ParseResults reads an inference_results.txt stream. Lines that cannot be
// parsed are kept with their raw text and an empty triplet list so callers
// can still account for every input sentence.
func ParseResults(r io.Reader, paradigm string) ([]LineResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var results []LineResult
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		triplets, err := ParseLine(paradigm, raw)
		if err != nil {
			results = append(results, LineResult{Line: lineNo, Raw: raw})
			continue
		}
		results = append(results, LineResult{Line: lineNo, Raw: raw, Triplets: triplets})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading results: %w", err)
	}
	return results, nil
}
