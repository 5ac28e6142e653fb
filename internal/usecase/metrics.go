package usecase

type noopMetrics struct{}

func (noopMetrics) MergeObserved(string)     {}
func (noopMetrics) RollbackObserved()        {}
func (noopMetrics) HydrationObserved(string) {}
func (noopMetrics) SendObserved(string)      {}
func (noopMetrics) UploadFailed()            {}

func orNoopMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
