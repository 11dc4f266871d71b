package events

import "strings"

// Category classifies pipeline errors for the operator.
type Category int

const (
	// CategoryDevice indicates the camera could not be opened or read
	CategoryDevice Category = iota
	// CategoryNegotiation indicates caps or format failures between stages
	CategoryNegotiation
	// CategoryInference indicates the inference engine or its model failed
	CategoryInference
	// CategoryResource indicates exhausted memory, buffers or GPU
	CategoryResource
	// CategoryUnknown indicates unclassified errors
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryNegotiation:
		return "negotiation"
	case CategoryInference:
		return "inference"
	case CategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Keyword lists are checked in this order; the first match wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryInference, []string{
		"nvinfer",
		"pgie",
		"model",
		"engine",
		"tensorrt",
		"onnx",
		"infer",
		"config file",
	}},
	{CategoryNegotiation, []string{
		"not negotiated",
		"negotiation",
		"caps",
		"format",
		"memory:nvmm",
	}},
	{CategoryResource, []string{
		"out of memory",
		"cuda",
		"allocate",
		"buffer pool",
		"no space",
		"surface",
	}},
	{CategoryDevice, []string{
		"/dev/video",
		"v4l2",
		"device",
		"could not open",
		"resource busy",
		"permission denied",
		"no such file",
	}},
}

// Classify assigns an Error notification to a category by looking for known
// keywords in its source, message and detail. Other kinds are CategoryUnknown.
func Classify(n Notification) Category {
	if n.Kind != KindError {
		return CategoryUnknown
	}
	combined := strings.ToLower(n.Source + " " + n.Message + " " + n.Detail)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(combined, kw) {
				return c.category
			}
		}
	}
	return CategoryUnknown
}
