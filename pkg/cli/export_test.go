package cli

var (
	ApplySeed         = applySeed
	ResolveSeedThread = resolveSeedThread
	PrintDecision     = printDecision
)

type SeedReport = seedReport
