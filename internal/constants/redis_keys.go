package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// MatchModulePrefix 匹配模块
	MatchModulePrefix = "match"
	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"
	// ResumeModulePrefix 简历模块
	ResumeModulePrefix = "resume"

	// EntitySession 排序会话实体
	EntitySession = "session"
	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityVector 向量实体
	EntityVector = "vector"
	// EntityExtraction 抽取结果实体
	EntityExtraction = "extraction"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityMD5ToID MD5到记录ID的映射实体
	EntityMD5ToID = "md5_to_id"

	// KeyRankSession 排序会话缓存 (STRING, JSON序列化的结果列表)
	// 格式: app:match:session:{jobID}:{topK}
	KeyRankSession = AppPrefix + ":" + MatchModulePrefix + ":" + EntitySession + ":%s"

	// KeyRankLock 排序分布式锁 (STRING)
	// 格式: app:match:lock:{jobID}
	KeyRankLock = AppPrefix + ":" + MatchModulePrefix + ":" + EntityLock + ":%s"

	// KeyJobVector 岗位向量缓存 (HASH)
	// 格式: app:job:vector:{jobID}
	KeyJobVector = AppPrefix + ":" + JobModulePrefix + ":" + EntityVector + ":%s"

	// KeyExtractionCache 简历抽取结果缓存 (STRING, JSON)
	// 格式: app:resume:extraction:{textMD5}
	KeyExtractionCache = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityExtraction + ":%s"

	// KeyFileMD5Set 文件MD5集合，用于快速去重 (SET)
	// 格式: app:resume:dedup_set
	KeyFileMD5Set = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityDedupSet

	// KeyFileMD5ToResumeID MD5到ResumeID的映射 (STRING)
	// 格式: app:resume:md5_to_id:{md5}
	KeyFileMD5ToResumeID = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityMD5ToID + ":%s"
)
