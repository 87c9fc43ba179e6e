package qrf

import "sync"

//Task is one unit of work for a Pool.
type Task interface {
	Run()
}

//Pool distributes tasks over a fixed number of worker goroutines.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
}

//NewPool creates a pool with threadsNum workers.
func NewPool(threadsNum int) *Pool {
	pool := &Pool{tasks: make(chan Task)}
	for q := 0; q < threadsNum; q++ {
		pool.wg.Add(1)
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task.Run()
			}
		}()
	}
	return pool
}

//AddTask submits one task. It blocks until a worker picks the task up.
func (pool *Pool) AddTask(task Task) {
	pool.tasks <- task
}

//Close signals that no more tasks will be submitted.
func (pool *Pool) Close() {
	close(pool.tasks)
}

//WaitAll blocks until every submitted task has finished.
func (pool *Pool) WaitAll() {
	pool.wg.Wait()
}

//TaskBuildRule builds the quantization rule of a single feature column and
//stores it at the given index of the shared result slice.
type TaskBuildRule struct {
	result    []Rule
	index     int
	buildFunc func(int) Rule
}

func (task *TaskBuildRule) Run() {
	task.result[task.index] = task.buildFunc(task.index)
}
