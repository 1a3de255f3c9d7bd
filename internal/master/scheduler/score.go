package scheduler

import "jobwatch/pkg/model"

// scoreNodes returns the highest scoring candidate; ties go to the first.
func (s *Scheduler) scoreNodes(job *model.RemoteJob, nodes []*model.Node) *model.Node {
	var best *model.Node
	maxScore := -1

	for _, node := range nodes {
		if score := calculateScore(job, node); score > maxScore {
			maxScore = score
			best = node
		}
	}
	return best
}

// calculateScore is a bin-packing score from 0 to 20: the fuller the node
// would be after placing job, the higher. Packing small jobs together keeps
// large free blocks for large jobs.
func calculateScore(job *model.RemoteJob, node *model.Node) int {
	used := node.Allocated.Add(job.ResReq)

	cpuScore := 0
	if node.TotalCap.MilliCPU > 0 {
		cpuScore = int(float64(used.MilliCPU) / float64(node.TotalCap.MilliCPU) * 10)
	}
	memScore := 0
	if node.TotalCap.Memory > 0 {
		memScore = int(float64(used.Memory) / float64(node.TotalCap.Memory) * 10)
	}
	return cpuScore + memScore
}
