package keyset

import "github.com/piprate/teamkeep/internal/jsonw"

func marshalKeyset(ks Keyset) ([]byte, error) {
	return jsonw.Marshal(ks)
}

func unmarshalKeyset(b []byte) (Keyset, error) {
	var ks Keyset
	if err := jsonw.Unmarshal(b, &ks); err != nil {
		return Keyset{}, err
	}
	return ks, nil
}
