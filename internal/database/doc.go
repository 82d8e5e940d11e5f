/*
包 database 负责打开审计存储所用的 GORM 数据库并管理连接池。

OpenDialector 按驱动名称（postgres、mysql、sqlite）选择方言，sqlite 使用
纯 Go 实现，无需 cgo。PoolManager 包装 GORM 实例，统一设置最大连接数、
空闲回收与连接生命周期，并可按间隔在后台探活，异常时通过 zap 输出诊断信息。
*/
package database
