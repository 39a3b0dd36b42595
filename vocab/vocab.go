// Package vocab implements the vocabulary of an embedding table: an ordered bijection between tokens and the
// contiguous ids [0, Len()).
package vocab

import (
	"github.com/pkg/errors"
)

var (
	// ErrDuplicateToken is returned when building a vocabulary with repeated tokens.
	ErrDuplicateToken = errors.New("duplicate token")

	// ErrUnknownToken is returned by IDs when a token is not in the vocabulary and there is no unknown token.
	ErrUnknownToken = errors.New("unknown token")

	// ErrIDOutOfRange is returned by Token for ids outside of [0, Len()).
	ErrIDOutOfRange = errors.New("id out of range")
)

// Specials are the two special tokens added to a vocabulary built from a pretrained file.
type Specials struct {
	// Unknown marks words that don't exist in the vocabulary.
	Unknown string

	// Padding is used to align sentences of different lengths.
	Padding string
}

// DefaultSpecials used by pretrained embeddings.
var DefaultSpecials = Specials{Unknown: "<unk>", Padding: "<pad>"}

// List returns the special tokens in the order they are inserted in the vocabulary: unknown first, then padding.
func (s Specials) List() []string {
	return []string{s.Unknown, s.Padding}
}

// Vocab maps tokens to ids and back. It's immutable after construction and safe for concurrent use.
type Vocab struct {
	tokens       []string
	ids          map[string]int
	specials     *Specials
	specialFirst bool
}

// FromTokens builds a vocabulary using the insertion order of tokens only: tokens[i] gets id i.
func FromTokens(tokens []string) (*Vocab, error) {
	v := &Vocab{
		tokens: make([]string, 0, len(tokens)),
		ids:    make(map[string]int, len(tokens)),
	}
	if err := v.add(tokens...); err != nil {
		return nil, err
	}
	return v, nil
}

// FromList builds a vocabulary from tokens and adds the special tokens.
//
// If specialFirst is true the special tokens get ids 0 (unknown) and 1 (padding) and tokens are shifted by 2.
// Otherwise tokens get ids [0, len(tokens)) and the special tokens take the last two ids.
func FromList(tokens []string, specials Specials, specialFirst bool) (*Vocab, error) {
	if specials.Unknown == specials.Padding {
		return nil, errors.Wrapf(ErrDuplicateToken, "unknown and padding special tokens are both %q", specials.Unknown)
	}
	v := &Vocab{
		tokens:       make([]string, 0, len(tokens)+2),
		ids:          make(map[string]int, len(tokens)+2),
		specials:     &specials,
		specialFirst: specialFirst,
	}
	var err error
	if specialFirst {
		if err = v.add(specials.List()...); err == nil {
			err = v.add(tokens...)
		}
	} else {
		if err = v.add(tokens...); err == nil {
			err = v.add(specials.List()...)
		}
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vocab) add(tokens ...string) error {
	for _, token := range tokens {
		if prev, found := v.ids[token]; found {
			return errors.Wrapf(ErrDuplicateToken, "token %q at position %d already has id %d", token, len(v.tokens), prev)
		}
		v.ids[token] = len(v.tokens)
		v.tokens = append(v.tokens, token)
	}
	return nil
}

// Len returns the number of tokens, including special tokens.
func (v *Vocab) Len() int {
	return len(v.tokens)
}

// ID returns the id of token, and whether it was found.
func (v *Vocab) ID(token string) (int, bool) {
	id, found := v.ids[token]
	return id, found
}

// Token returns the token for the given id.
func (v *Vocab) Token(id int) (string, error) {
	if id < 0 || id >= len(v.tokens) {
		return "", errors.Wrapf(ErrIDOutOfRange, "id %d not in [0, %d)", id, len(v.tokens))
	}
	return v.tokens[id], nil
}

// Tokens returns all tokens ordered by id. The returned slice must not be modified.
func (v *Vocab) Tokens() []string {
	return v.tokens
}

// Specials returns the special tokens added at construction, or nil if the vocabulary was built with FromTokens.
func (v *Vocab) Specials() *Specials {
	return v.specials
}

// SpecialFirst returns whether the special tokens were added at the front of the vocabulary.
func (v *Vocab) SpecialFirst() bool {
	return v.specialFirst
}

// IDs converts tokens to ids. Tokens not in the vocabulary are mapped to the unknown special token if there is one,
// otherwise it returns an error wrapping ErrUnknownToken.
func (v *Vocab) IDs(tokens []string) ([]int, error) {
	unkID := -1
	if v.specials != nil {
		unkID = v.ids[v.specials.Unknown]
	}
	ids := make([]int, len(tokens))
	for i, token := range tokens {
		id, found := v.ids[token]
		if !found {
			if unkID < 0 {
				return nil, errors.Wrapf(ErrUnknownToken, "token %q (position %d)", token, i)
			}
			id = unkID
		}
		ids[i] = id
	}
	return ids, nil
}
