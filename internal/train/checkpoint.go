package train

import (
	"encoding/json"
	"strconv"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
	"github.com/born-ml/transfer/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Checkpoint describes a saved classifier. It is stored in the metadata of
// the .born file next to the weights.
type Checkpoint struct {
	RunID        uuid.UUID
	Kind         model.Kind
	Arch         string // Backbone architecture, for transfer models
	InputSize    int
	Classes      []string
	Epoch        int
	TestLoss     float32
	TestAccuracy float32
}

// NewCheckpoint fills a Checkpoint from the last epoch of h, with a fresh
// run id.
func NewCheckpoint(kind model.Kind, arch string, inputSize int, classes []string, h *History) Checkpoint {
	c := Checkpoint{
		RunID:     uuid.New(),
		Kind:      kind,
		Arch:      arch,
		InputSize: inputSize,
		Classes:   classes,
	}
	if last, ok := h.Last(); ok {
		c.Epoch = last.Epoch
		c.TestLoss = last.TestLoss
		c.TestAccuracy = last.TestAccuracy
	}
	return c
}

func (c Checkpoint) metadata() (map[string]string, error) {
	classes, err := json.Marshal(c.Classes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode class names")
	}
	return map[string]string{
		"run_id":        c.RunID.String(),
		"kind":          string(c.Kind),
		"arch":          c.Arch,
		"input_size":    strconv.Itoa(c.InputSize),
		"classes":       string(classes),
		"epoch":         strconv.Itoa(c.Epoch),
		"test_loss":     strconv.FormatFloat(float64(c.TestLoss), 'g', -1, 32),
		"test_accuracy": strconv.FormatFloat(float64(c.TestAccuracy), 'g', -1, 32),
	}, nil
}

func parseCheckpoint(md map[string]string) (Checkpoint, error) {
	var (
		c   Checkpoint
		err error
	)
	if c.RunID, err = uuid.Parse(md["run_id"]); err != nil {
		return c, errors.Wrap(err, "bad run_id")
	}
	if c.Kind, err = model.ParseKind(md["kind"]); err != nil {
		return c, err
	}
	c.Arch = md["arch"]
	if err = json.Unmarshal([]byte(md["classes"]), &c.Classes); err != nil {
		return c, errors.Wrap(err, "bad classes")
	}
	for key, dst := range map[string]*int{"input_size": &c.InputSize, "epoch": &c.Epoch} {
		if *dst, err = strconv.Atoi(md[key]); err != nil {
			return c, errors.Wrapf(err, "bad %s", key)
		}
	}
	for key, dst := range map[string]*float32{"test_loss": &c.TestLoss, "test_accuracy": &c.TestAccuracy} {
		v, err := strconv.ParseFloat(md[key], 32)
		if err != nil {
			return c, errors.Wrapf(err, "bad %s", key)
		}
		*dst = float32(v)
	}
	return c, nil
}

// SaveCheckpoint writes all parameters of m, frozen ones included, and the
// checkpoint description to path.
func SaveCheckpoint[B tensor.Backend](path string, m model.Classifier[B], c Checkpoint) error {
	md, err := c.metadata()
	if err != nil {
		return err
	}
	if err := nn.Save[B](m, path, string(c.Kind), md); err != nil {
		return errors.Wrapf(err, "failed to save checkpoint %q", path)
	}
	return nil
}

// ReadCheckpoint returns the description stored in a checkpoint, loading
// nothing into a model. Use it to decide which model to build before
// LoadCheckpoint.
func ReadCheckpoint[B tensor.Backend](path string, backend B) (Checkpoint, error) {
	return LoadCheckpoint[B](path, nil, backend)
}

// LoadCheckpoint restores m from path and returns the stored description.
// A nil m only reads the description.
func LoadCheckpoint[B tensor.Backend](path string, m model.Classifier[B], backend B) (Checkpoint, error) {
	var target nn.Module[B] = discard[B]{}
	if m != nil {
		target = m
	}
	header, err := nn.Load[B](path, backend, target)
	if err != nil {
		return Checkpoint{}, errors.Wrapf(err, "failed to load checkpoint %q", path)
	}
	c, err := parseCheckpoint(header.Metadata)
	if err != nil {
		return c, errors.WithMessagef(err, "checkpoint %q", path)
	}
	if m != nil && len(c.Classes) != m.NumClasses() {
		return c, errors.Errorf("checkpoint %q has %d classes, model has %d", path, len(c.Classes), m.NumClasses())
	}
	return c, nil
}

// discard is a module that accepts any state dict.
type discard[B tensor.Backend] struct{}

func (discard[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] { return x }
func (discard[B]) Parameters() []*nn.Parameter[B] { return nil }
func (discard[B]) StateDict() map[string]*tensor.RawTensor { return nil }
func (discard[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }
