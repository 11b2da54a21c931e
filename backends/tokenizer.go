package backends

// Tokenizer turns a single word or label into sub-word ids.
type Tokenizer interface {
	// Encode returns the ids of text. With addSpecialTokens the model's
	// begin/end markers are included, so Encode("", true) yields just those.
	Encode(text string, addSpecialTokens bool) ([]uint32, error)
	Destroy() error
}

// SpecialTokens are the ids wrapped around every encoded prompt.
type SpecialTokens struct {
	Begin []uint32
	End   []uint32
}

// GetSpecialTokens derives the begin/end ids from encoding an empty string.
// Tokenizers without a post processor return none.
func GetSpecialTokens(tk Tokenizer) (SpecialTokens, error) {
	ids, err := tk.Encode("", true)
	if err != nil {
		return SpecialTokens{}, err
	}
	switch len(ids) {
	case 0:
		return SpecialTokens{}, nil
	case 1:
		return SpecialTokens{Begin: ids}, nil
	default:
		return SpecialTokens{Begin: ids[:1], End: ids[1:]}, nil
	}
}
