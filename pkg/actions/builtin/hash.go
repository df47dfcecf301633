package builtin

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/ormasoftchile/playbook/pkg/kernel/action"
	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

type hashArgs struct {
	S string `mapstructure:"s"`
}

// namespace seeds the name-based UUIDs generated by the uuid action.
var namespace = uuid.New()

func hashActions() map[string]action.Action {
	hashSpec := func(algo string) schema.ActionSpec {
		return schema.ActionSpec{
			Description: "Generate a " + algo + " hash of the given input string.",
			Arguments: []schema.ArgSpec{
				{Name: "s", Type: "string", Description: "The input string to hash with " + algo + ".", Required: true},
			},
		}
	}
	return map[string]action.Action{
		"uuid": fn("uuid", schema.ActionSpec{
			Description: "Generate a version 5 UUID using SHA1 hash.",
		}, func(context.Context, action.Call) (any, error) {
			id := uuid.NewSHA1(namespace, []byte(uuid.NewString()))
			return hex.EncodeToString(id[:]), nil
		}),
		"sha1": typed("sha1", hashSpec("SHA1"), func(_ context.Context, _ action.Call, a hashArgs) (any, error) {
			sum := sha1.Sum([]byte(a.S))
			return hex.EncodeToString(sum[:]), nil
		}),
		"sha256": typed("sha256", hashSpec("SHA256"), func(_ context.Context, _ action.Call, a hashArgs) (any, error) {
			sum := sha256.Sum256([]byte(a.S))
			return hex.EncodeToString(sum[:]), nil
		}),
	}
}
