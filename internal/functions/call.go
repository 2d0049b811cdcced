package functions

import "context"

// CallInfo identifies the call a function runs on behalf of.
type CallInfo struct {
	StreamSID    string
	CallerNumber string
	CalledNumber string
}

type callKey struct{}

func WithCall(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callKey{}, info)
}

func CallFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callKey{}).(CallInfo)
	return info, ok
}
