package decode

import (
	"context"
	"errors"
	"testing"

	"fewseg/internal/model"
)

// stubEmbedder hands back the episode's own tensors, standing in for the
// external embedding network.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, ep model.Episode) ([]model.FeatureMap, []model.FeatureMap, error) {
	var support []model.FeatureMap
	for _, way := range ep.Support {
		for _, shot := range way {
			support = append(support, shot.Features)
		}
	}
	queries := make([]model.FeatureMap, len(ep.Queries))
	for i, q := range ep.Queries {
		queries[i] = q.Features
	}
	return support, queries, nil
}

func oneOneOne() Config { return Config{Ways: 1, Shots: 1, Queries: 1} }

// supportGrid builds a 2x2 support shot: the left column is foreground
// with feature (1,0), the right column background with feature (0,1).
func supportGrid() model.SupportShot {
	features := model.NewFeatureMap(2, 2, 2)
	fg := model.NewMask(2, 2)
	for y := 0; y < 2; y++ {
		features.Set(0, y, 0, 1)
		features.Set(1, y, 1, 1)
		fg.Set(y, 0, 1)
	}
	bg := model.NewMask(2, 2)
	for y := 0; y < 2; y++ {
		bg.Set(y, 1, 1)
	}
	return model.SupportShot{Features: features, FG: fg, BG: bg}
}

func queryGrid(vectors [][2]float64, h, w int) model.Query {
	features := model.NewFeatureMap(2, h, w)
	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			features.Set(0, y, x, vectors[i][0])
			features.Set(1, y, x, vectors[i][1])
			i++
		}
	}
	return model.Query{Features: features, Label: model.NewLabelMap(h, w)}
}

func TestPrototypeDecodeSeparatesForeground(t *testing.T) {
	dec, err := NewPrototype(oneOneOne(), stubEmbedder{})
	if err != nil {
		t.Fatalf("new prototype: %v", err)
	}

	ep := model.Episode{
		ClassIDs: []int{4},
		Support:  [][]model.SupportShot{{supportGrid()}},
		Queries: []model.Query{queryGrid([][2]float64{
			{0.9, 0.1}, // near foreground prototype
			{0.1, 0.9}, // near background prototype
			{0.5, 0.5}, // exact tie
			{1.0, 0.0}, // foreground exactly
		}, 2, 2)},
	}

	preds, err := dec.Decode(context.Background(), ep)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pred := preds[0]
	if pred.At(0, 0) != 4 {
		t.Fatalf("pixel near fg prototype must carry the episode class id, got %d", pred.At(0, 0))
	}
	if pred.At(0, 1) != 0 {
		t.Fatalf("pixel near bg prototype must be background")
	}
	if pred.At(1, 0) != 0 {
		t.Fatalf("exact tie must resolve to background")
	}
	if pred.At(1, 1) != 4 {
		t.Fatalf("exact fg match must carry the episode class id, got %d", pred.At(1, 1))
	}
}

func TestPrototypesDifferForDisjointMasks(t *testing.T) {
	dec, err := NewPrototype(oneOneOne(), stubEmbedder{})
	if err != nil {
		t.Fatalf("new prototype: %v", err)
	}
	shot := supportGrid()

	fg, bg, err := dec.(*prototypeDecoder).prototypes(model.Episode{
		ClassIDs: []int{1},
		Support:  [][]model.SupportShot{{shot}},
	}, []model.FeatureMap{shot.Features})
	if err != nil {
		t.Fatalf("prototypes: %v", err)
	}
	same := true
	for c := range fg {
		if fg[c] != bg[c] {
			same = false
		}
	}
	if same {
		t.Fatalf("disjoint masks with distinct embeddings must give distinct prototypes")
	}
}

func TestPrototypeEmptyForegroundMaskStaysFinite(t *testing.T) {
	dec, err := NewPrototype(oneOneOne(), stubEmbedder{})
	if err != nil {
		t.Fatalf("new prototype: %v", err)
	}

	shot := supportGrid()
	shot.FG = model.NewMask(2, 2)

	ep := model.Episode{
		ClassIDs: []int{2},
		Support:  [][]model.SupportShot{{shot}},
		Queries:  []model.Query{queryGrid([][2]float64{{0.1, 0.9}, {0.9, 0.1}, {0, 0}, {1, 1}}, 2, 2)},
	}
	if _, err := dec.Decode(context.Background(), ep); err != nil {
		t.Fatalf("all-zero foreground mask must not fail: %v", err)
	}
}

func TestPrototypeResamplesToLabelResolution(t *testing.T) {
	dec, err := NewPrototype(oneOneOne(), stubEmbedder{})
	if err != nil {
		t.Fatalf("new prototype: %v", err)
	}

	// Embeddings on a 2x2 grid, labels on 4x4: the decoder classifies on
	// the coarse grid and upsamples the prediction.
	shot := supportGrid()
	fineFG := model.NewMask(4, 4)
	for y := 0; y < 4; y++ {
		fineFG.Set(y, 0, 1)
		fineFG.Set(y, 1, 1)
	}
	shot.FG = fineFG
	shot.BG = model.NewMask(4, 4)

	query := queryGrid([][2]float64{{1, 0}, {0, 1}, {1, 0}, {0, 1}}, 2, 2)
	query.Label = model.NewLabelMap(4, 4)

	ep := model.Episode{
		ClassIDs: []int{3},
		Support:  [][]model.SupportShot{{shot}},
		Queries:  []model.Query{query},
	}
	preds, err := dec.Decode(context.Background(), ep)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	pred := preds[0]
	if pred.H != 4 || pred.W != 4 {
		t.Fatalf("prediction must match label resolution, got %dx%d", pred.H, pred.W)
	}
	if pred.At(0, 0) != 3 || pred.At(0, 1) != 3 {
		t.Fatalf("coarse fg cell must replicate its class id into the block")
	}
	if pred.At(0, 2) != 0 || pred.At(0, 3) != 0 {
		t.Fatalf("coarse bg cell must replicate into its block")
	}
}

func TestPrototypeRejectsWrongTaskShape(t *testing.T) {
	if _, err := NewPrototype(Config{Ways: 2, Shots: 1, Queries: 1}, stubEmbedder{}); !errors.Is(err, ErrUnsupportedTask) {
		t.Fatalf("expected unsupported task error, got %v", err)
	}

	dec, err := NewPrototype(oneOneOne(), stubEmbedder{})
	if err != nil {
		t.Fatalf("new prototype: %v", err)
	}
	ep := model.Episode{
		ClassIDs: []int{1, 2},
		Support:  [][]model.SupportShot{{supportGrid()}, {supportGrid()}},
		Queries:  []model.Query{queryGrid([][2]float64{{0, 0}}, 1, 1)},
	}
	if _, err := dec.Decode(context.Background(), ep); !errors.Is(err, ErrUnsupportedTask) {
		t.Fatalf("expected unsupported task error, got %v", err)
	}
}

func TestNewUnknownStrategy(t *testing.T) {
	_, err := New("learned", oneOneOne(), Models{Score: nil, Embedding: stubEmbedder{}})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected unknown strategy error, got %v", err)
	}
}
